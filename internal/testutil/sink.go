package testutil

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

// RecordingSink captures every record it is handed. Set Err to make Emit fail
// (the record is not kept in that case).
type RecordingSink struct {
	mu      sync.Mutex
	records []gifts.Record

	Err error
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Emit(_ context.Context, rec gifts.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the captured records.
func (s *RecordingSink) Records() []gifts.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gifts.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
