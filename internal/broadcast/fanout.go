package broadcast

import (
	"context"
	"errors"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/streak"
)

// Fanout delivers each record to every sink. One failing sink does not stop
// the others; all failures are returned joined.
type Fanout struct {
	sinks []streak.Sink
}

func NewFanout(sinks ...streak.Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Emit(ctx context.Context, rec gifts.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}
