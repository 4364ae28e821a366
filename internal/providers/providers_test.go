package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFirstSuccessReturnsFirstWinner(t *testing.T) {
	attempts := []Attempt[string]{
		{Name: "primary", Run: func(ctx context.Context) (string, error) {
			return "", errors.New("quota exhausted")
		}},
		{Name: "secondary", Run: func(ctx context.Context) (string, error) {
			return "result", nil
		}},
		{Name: "tertiary", Run: func(ctx context.Context) (string, error) {
			t.Error("later provider must not run after a success")
			return "", nil
		}},
	}

	var logged []string
	logf := func(format string, args ...any) {
		logged = append(logged, strings.TrimSpace(format))
	}

	v, name, err := FirstSuccess(context.Background(), attempts, logf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "result" || name != "secondary" {
		t.Errorf("got (%q, %q)", v, name)
	}
	if len(logged) != 1 {
		t.Errorf("expected 1 failure log, got %d", len(logged))
	}
}

func TestFirstSuccessAllFail(t *testing.T) {
	attempts := []Attempt[int]{
		{Name: "a", Run: func(ctx context.Context) (int, error) { return 0, errors.New("down") }},
		{Name: "b", Run: func(ctx context.Context) (int, error) { return 0, errors.New("also down") }},
	}

	_, _, err := FirstSuccess(context.Background(), attempts, nil)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "also down") {
		t.Errorf("last error not preserved: %v", err)
	}
}

func TestFirstSuccessEmptyList(t *testing.T) {
	_, _, err := FirstSuccess[string](context.Background(), nil, nil)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestFirstSuccessHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := []Attempt[string]{
		{Name: "a", Run: func(ctx context.Context) (string, error) {
			t.Error("no attempt should run after cancellation")
			return "", nil
		}},
	}

	if _, _, err := FirstSuccess(ctx, attempts, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
