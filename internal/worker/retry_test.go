package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyTransientKeywords(t *testing.T) {
	cases := []string{
		"request timeout while calling provider",
		"connection reset by peer",
		"upstream returned 503",
		"rate limit exceeded, slow down",
		"service unavailable right now",
	}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != KindTransient {
			t.Errorf("Classify(%q) = %v, want transient", msg, got)
		}
	}
}

func TestClassifyPermanentKeywords(t *testing.T) {
	cases := []string{
		"script.json not found",
		"invalid options payload",
		"unauthorized: bad api key",
		"provider returned 404",
	}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != KindPermanent {
			t.Errorf("Classify(%q) = %v, want permanent", msg, got)
		}
	}
}

func TestClassifyPermanentBeatsTransient(t *testing.T) {
	// Both keyword families present: permanent wins, deterministically.
	err := errors.New("unauthorized after connection timeout")
	if got := Classify(err); got != KindPermanent {
		t.Errorf("Classify = %v, want permanent when both keywords match", got)
	}
}

func TestClassifyErrorTypes(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != KindTransient {
		t.Errorf("deadline exceeded classified %v, want transient", got)
	}
	wrapped := fmt.Errorf("stage voice: %w", context.DeadlineExceeded)
	if got := Classify(wrapped); got != KindTransient {
		t.Errorf("wrapped deadline classified %v, want transient", got)
	}
	if got := Classify(errors.New("something else entirely")); got != KindPermanent {
		t.Errorf("unknown error classified %v, want permanent", got)
	}
}

func TestDecideBackoffSchedule(t *testing.T) {
	base := 60 * time.Second
	err := errors.New("connection refused")

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	for attempt, delay := range want {
		d := Decide(err, attempt, 3, base)
		if !d.Retry {
			t.Fatalf("attempt %d: expected retry", attempt)
		}
		if d.After != delay {
			t.Errorf("attempt %d: delay = %s, want %s", attempt, d.After, delay)
		}
	}
}

func TestDecideExhaustsRetries(t *testing.T) {
	err := errors.New("connection refused")
	d := Decide(err, 3, 3, time.Second)
	if d.Retry {
		t.Fatal("attempt at ceiling must not retry")
	}
	if d.Message == "" {
		t.Error("final decision should carry the error message")
	}
}

func TestDecidePermanentNeverRetries(t *testing.T) {
	d := Decide(errors.New("invalid input"), 0, 3, time.Second)
	if d.Retry {
		t.Fatal("permanent error must not retry even on first attempt")
	}
}
