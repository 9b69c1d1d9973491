package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/MikeSquared-Agency/giftstream/internal/testutil"
)

func TestFanout_DeliversToAll(t *testing.T) {
	a := testutil.NewRecordingSink()
	b := testutil.NewRecordingSink()
	f := NewFanout(a, nil, b)

	if f.Len() != 2 {
		t.Errorf("expected nil sink skipped, got %d sinks", f.Len())
	}
	if err := f.Emit(context.Background(), testRecord()); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("expected one record per sink, got %d and %d", a.Len(), b.Len())
	}
}

func TestFanout_ContinuesPastFailure(t *testing.T) {
	bad := testutil.NewRecordingSink()
	bad.Err = errors.New("redis down")
	good := testutil.NewRecordingSink()
	f := NewFanout(bad, good)

	err := f.Emit(context.Background(), testRecord())
	if err == nil || err.Error() != "redis down" {
		t.Errorf("expected joined redis error, got %v", err)
	}
	if good.Len() != 1 {
		t.Errorf("expected healthy sink to receive record, got %d", good.Len())
	}
}

func TestFanout_Empty(t *testing.T) {
	if err := NewFanout().Emit(context.Background(), testRecord()); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
