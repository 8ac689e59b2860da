package qga

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

// newChannelSlot creates the single-entry pool holding the live channel.
//
// The slot doubles as the exclusive lock serializing command issuance: a
// command holds the slot from before its pre-send drain until its reply is
// consumed or its deadline elapses, and waiters queue in Acquire. Destroying
// the held resource closes a broken channel, so the next acquire dials a
// fresh one through the constructor.
func newChannelSlot(constructor func(ctx context.Context) (Transport, error)) (*channelSlot, error) {
	s := &channelSlot{}

	poolConfig := &puddle.Config[Transport]{
		Constructor: func(ctx context.Context) (Transport, error) {
			tr, err := constructor(ctx)
			if err == nil {
				s.created.Add(1)
			}
			return tr, err
		},
		Destructor: func(tr Transport) {
			s.destroyed.Add(1)
			_ = tr.Close()
		},
		MaxSize: 1,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// channelSlot wraps puddle.Pool with MaxSize 1.
type channelSlot struct {
	pool      *puddle.Pool[Transport]
	closeOnce sync.Once
	created   atomic.Int64
	destroyed atomic.Int64
}

func (s *channelSlot) Acquire(ctx context.Context) (*puddle.Resource[Transport], error) {
	return s.pool.Acquire(ctx)
}

// Connect dials the channel eagerly without holding on to it.
func (s *channelSlot) Connect(ctx context.Context) error {
	return s.pool.CreateResource(ctx)
}

// Close tears down the live channel and rejects further acquires. Safe to
// call more than once.
func (s *channelSlot) Close() {
	s.closeOnce.Do(s.pool.Close)
}

// Stats returns a snapshot of channel lifecycle statistics.
func (s *channelSlot) Stats() ChannelStats {
	st := s.pool.Stat()

	return ChannelStats{
		Live:         st.TotalResources(),
		Dials:        s.created.Load(),
		Teardowns:    s.destroyed.Load(),
		LockAcquires: st.AcquireCount(),
		LockWaits:    st.EmptyAcquireCount(),
		LockWaitTime: st.EmptyAcquireWaitTime(),
	}
}
