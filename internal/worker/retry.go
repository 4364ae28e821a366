package worker

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Error kinds the runner distinguishes.
type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
)

// Permanent indicators win over transient ones: an error mentioning both
// "unauthorized" and "timeout" is not worth retrying.
var permanentKeywords = []string{
	"not found",
	"invalid",
	"validation",
	"unauthorized",
	"401",
	"403",
	"404",
}

var transientKeywords = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"rate limit",
	"throttle",
	"unavailable",
	"service unavailable",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// Classify buckets an error as transient or permanent. Keyword matching on
// the message runs first (permanent list has priority), then the error's
// runtime category decides: connectivity and timeout errors are transient,
// everything else is permanent.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	msg := strings.ToLower(err.Error())

	for _, kw := range permanentKeywords {
		if strings.Contains(msg, kw) {
			return KindPermanent
		}
	}
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return KindTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindTransient
	}
	return KindPermanent
}

// Decision is the explicit instruction the runner acts on after a failed
// pipeline run: either requeue after a delay or fail the job for good.
type Decision struct {
	Retry   bool
	After   time.Duration
	Message string
}

// Decide applies the retry policy: transient errors below the attempt
// ceiling get exponential backoff (base, 2*base, 4*base, ...); anything
// else is final.
func Decide(err error, attempt, maxRetries int, baseDelay time.Duration) Decision {
	if Classify(err) == KindTransient && attempt < maxRetries {
		return Decision{
			Retry:   true,
			After:   baseDelay * (1 << attempt),
			Message: "Retrying after error: " + err.Error(),
		}
	}
	return Decision{Retry: false, Message: err.Error()}
}
