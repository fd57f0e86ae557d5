package retry

import (
	"time"

	"github.com/gojektech/heimdall/v6"
)

type linearBackoff struct {
	base time.Duration
}

// NewLinearBackoff returns a heimdall.Backoff whose delay grows by base on
// every attempt: base, 2*base, 3*base, ...
func NewLinearBackoff(base time.Duration) heimdall.Backoff {
	return &linearBackoff{base: base}
}

// Next returns the delay to wait after the given zero-based retry.
func (lb *linearBackoff) Next(retry int) time.Duration {
	if retry < 0 || lb.base <= 0 {
		return 0
	}
	return lb.base * time.Duration(retry+1)
}
