package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between outbound requests to one venue.
// Every REST call blocks on Wait before hitting the wire, so bursts from the
// executor and the monitor are serialized into an even request stream.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer builds a pacer with the given minimum inter-request interval.
func NewPacer(minInterval time.Duration) *Pacer {
	if minInterval <= 0 {
		minInterval = time.Millisecond
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next request slot or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}
