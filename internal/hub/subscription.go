package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/finfiles/finfiles/internal/filing"
	"github.com/finfiles/finfiles/pkg/models"
)

// State is the lifecycle state of a subscription.
type State int32

const (
	// Active subscriptions receive new matching records as they are admitted.
	Active State = iota
	// Draining subscriptions receive no new records; buffered records
	// remain readable until the delivery channel closes.
	Draining
	// Closed is terminal: no further delivery, resources released.
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason explains why a subscription left the Active state.
type CloseReason string

const (
	ReasonUnsubscribed CloseReason = "unsubscribed"
	ReasonSaturated    CloseReason = "subscriber saturated"
	ReasonShutdown     CloseReason = "hub shutdown"
)

// Delivery is one pushed record. Seq is the store admission sequence;
// consumers apply deliveries idempotently keyed by the accession id, so a
// redelivery after a transient stall is harmless.
type Delivery struct {
	Filing models.Filing `json:"filing"`
	Seq    uint64        `json:"seq"`
}

// Subscription is a standing request for real-time delivery of filings
// matching a filter. Exactly one subscription exists per handle; the
// caller owns the receiving side of C.
type Subscription struct {
	ID   string
	Spec filing.FilterSpec

	ch     chan Delivery
	state  atomic.Int32
	cursor atomic.Uint64 // last delivered admission sequence

	// sendMu orders trySend against the channel close in drain.
	sendMu    sync.Mutex
	closeOnce sync.Once
	reason    CloseReason
}

func newSubscription(spec filing.FilterSpec, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscription{
		ID:   uuid.NewString(),
		Spec: spec,
		ch:   make(chan Delivery, buffer),
	}
}

// C is the ordered delivery channel. It is closed once the subscription
// finishes draining; buffered deliveries remain readable after close.
func (s *Subscription) C() <-chan Delivery { return s.ch }

// State returns the current lifecycle state.
func (s *Subscription) State() State { return State(s.state.Load()) }

// Cursor returns the admission sequence of the last enqueued delivery.
func (s *Subscription) Cursor() uint64 { return s.cursor.Load() }

// Reason returns why the subscription was closed. Empty while Active.
func (s *Subscription) Reason() CloseReason { return s.reason }

// trySend offers one delivery without blocking. sent reports whether it
// was enqueued; open reports whether the subscription can still accept.
func (s *Subscription) trySend(d Delivery) (sent, open bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.State() != Active {
		return false, false
	}
	select {
	case s.ch <- d:
		s.cursor.Store(d.Seq)
		return true, true
	default:
		return false, true
	}
}

// drainTimeout bounds how long a draining subscription waits for its
// consumer to flush buffered deliveries. A dropped subscriber that has
// stopped reading would otherwise hold the subscription in Draining
// forever.
const drainTimeout = time.Second

// drain moves the subscription out of Active and closes the delivery
// channel. Buffered deliveries stay readable after the close; the
// subscription reports Draining until the consumer has read them all,
// then Closed. A consumer that abandons the flush has the remainder
// discarded after drainTimeout so the terminal state is always reached.
// The channel close itself is the end-of-stream notice.
func (s *Subscription) drain(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.reason = reason
		s.sendMu.Lock()
		s.state.Store(int32(Draining))
		close(s.ch)
		s.sendMu.Unlock()
		go func() {
			deadline := time.NewTimer(drainTimeout)
			defer deadline.Stop()
			tick := time.NewTicker(5 * time.Millisecond)
			defer tick.Stop()
			for len(s.ch) > 0 {
				select {
				case <-deadline.C:
					// Consumer abandoned the flush; discard the rest.
					for range s.ch {
					}
				case <-tick.C:
				}
			}
			s.state.Store(int32(Closed))
		}()
	})
}
