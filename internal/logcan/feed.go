package logcan

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dtcmesh/j1939dtc/internal/can"
	"github.com/dtcmesh/j1939dtc/internal/metrics"
)

// Feed fans in frames from one or more live backends (serial, SocketCAN)
// into a single buffered channel a caller drains with Frames(): any number
// of reader goroutines funnelled up into one consumer, so the Engine's
// single-threaded ingest discipline (spec §4.5) only ever sees one frame
// at a time regardless of how many physical buses feed it. A full buffer
// drops the newest frame rather than blocking the producing goroutine.
type Feed struct {
	ch     chan can.Frame
	wg     sync.WaitGroup
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewFeed returns a Feed with the given channel capacity.
func NewFeed(parent context.Context, buf int) (*Feed, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Feed{ch: make(chan can.Frame, buf), cancel: cancel}, ctx
}

// Frames returns the channel consumers should range over.
func (f *Feed) Frames() <-chan can.Frame { return f.ch }

// AddSource starts a goroutine running run(emit) until run returns.
// Cancelling ctx does not interrupt run; it only suppresses the onErr report
// of an error run returns after cancellation. Every frame run's emit
// callback produces is pushed onto the
// shared channel, or dropped (with a malformed-frame metric bump used here
// as a generic drop counter) if the channel is full.
func (f *Feed) AddSource(ctx context.Context, run func(emit func(can.Frame)) error, onErr func(error)) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		err := run(func(fr can.Frame) {
			if f.closed.Load() {
				return
			}
			select {
			case f.ch <- fr:
			default:
				metrics.IncMalformedFrames()
			}
		})
		if err != nil && onErr != nil {
			select {
			case <-ctx.Done():
			default:
				onErr(err)
			}
		}
	}()
}

// Close stops accepting new frames and waits for all source goroutines to
// finish, then closes the channel.
func (f *Feed) Close() {
	if f.closed.Swap(true) {
		return
	}
	f.cancel()
	f.wg.Wait()
	close(f.ch)
}
