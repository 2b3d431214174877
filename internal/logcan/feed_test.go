package logcan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dtcmesh/j1939dtc/internal/can"
)

func TestFeedFansInMultipleSources(t *testing.T) {
	feed, ctx := NewFeed(context.Background(), 16)

	feed.AddSource(ctx, func(emit func(can.Frame)) error {
		emit(can.Frame{ID: 1})
		emit(can.Frame{ID: 2})
		return nil
	}, nil)
	feed.AddSource(ctx, func(emit func(can.Frame)) error {
		emit(can.Frame{ID: 3})
		return nil
	}, nil)

	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		select {
		case fr := <-feed.Frames():
			seen[fr.ID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
	for _, id := range []uint32{1, 2, 3} {
		if !seen[id] {
			t.Fatalf("expected frame id %d to be seen", id)
		}
	}
	feed.Close()
}

func TestFeedCallsOnErrUnlessCancelled(t *testing.T) {
	feed, ctx := NewFeed(context.Background(), 4)
	errCh := make(chan error, 1)
	wantErr := errors.New("source failed")

	feed.AddSource(ctx, func(emit func(can.Frame)) error {
		return wantErr
	}, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		if !errors.Is(err, wantErr) {
			t.Fatalf("got error %v, want %v", err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onErr callback")
	}
	feed.Close()
}

func TestFeedCloseIsIdempotent(t *testing.T) {
	feed, _ := NewFeed(context.Background(), 1)
	feed.Close()
	feed.Close()
}
