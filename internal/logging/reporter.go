package logging

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

// failureReporter writes sink failures to a fallback writer, throttled so an
// unreachable sink cannot flood it. Suppressed reports are counted and
// mentioned in the next report that gets through.
type failureReporter struct {
	mu         sync.Mutex
	out        io.Writer
	limiter    *rate.Limiter
	suppressed int
}

func newFailureReporter(out io.Writer, ratePerSecond float64, burst int) *failureReporter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &failureReporter{
		out:     out,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (r *failureReporter) Report(sink string, err error) {
	if r == nil || r.out == nil || err == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.limiter.Allow() {
		r.suppressed++
		return
	}

	msg := fmt.Sprintf("logging: %s sink failed: %v", sink, err)
	if r.suppressed > 0 {
		msg += fmt.Sprintf(" (%d similar reports suppressed)", r.suppressed)
		r.suppressed = 0
	}
	_, _ = fmt.Fprintln(r.out, msg)
}

// reportFunc binds the reporter to one sink name.
func (r *failureReporter) reportFunc(sink string) func(error) {
	return func(err error) {
		r.Report(sink, err)
	}
}
