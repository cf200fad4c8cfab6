package search

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"bitfinder/internal/providers/common"
)

// RetryConfig bounds how often a backend call is repeated after a transient
// failure. Delays grow geometrically from InitialDelay and never exceed
// MaxDelay.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 400 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
	}
}

// delay is the pause before attempt n+1, with up to 25% jitter either way.
func (c RetryConfig) delay(n int) time.Duration {
	growth := math.Max(c.Multiplier, 1)
	d := float64(c.InitialDelay) * math.Pow(growth, float64(n-1))
	d *= 0.75 + rand.Float64()*0.5
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// RetryWithBackoff runs fn until it succeeds, fails permanently, or the
// attempts run out. Waiting between attempts ends early with ctx.Err().
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	for n := 1; ; n++ {
		err := fn()
		if err == nil || n >= attempts || !isTransientError(err) {
			return err
		}
		timer := time.NewTimer(cfg.delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var transientMarkers = []string{"timeout", "connection reset", "connection refused", "eof"}

// isTransientError reports failures another attempt could plausibly fix:
// network errors, upstream 429/5xx, and timeouts that did not come from the
// caller giving up.
func isTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var statusErr *common.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
