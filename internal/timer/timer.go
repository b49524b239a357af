// Package timer implements the shared timer substrate: every timer is
// identified by (owner, kind) so rescheduling is an idempotent replace,
// and expiry is always observed as a token on a
// channel rather than a direct callback. Cancellation is synchronous: once
// Cancel or Reset returns, no stale expiry for the previous generation can
// ever reach the channel.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/holo-routing/routingd/internal/metrics"
)

// Kind identifies the purpose of a scheduled timer.
type Kind string

const (
	KindConnectRetry Kind = "connect-retry"
	KindHold         Kind = "hold"
	KindKeepalive    Kind = "keepalive"
	KindMRAI         Kind = "mrai"
	KindIdleHold     Kind = "idle-hold"
	KindSPFDelay     Kind = "spf-delay"
	KindSPFHoldDown  Kind = "spf-hold-down"
	KindDDRetransmit Kind = "dd-retransmit"
	KindLSRefresh    Kind = "ls-refresh"
	KindLSMaxAge     Kind = "ls-max-age"
	KindGraceExpiry  Kind = "grace-expiry"
	KindHelloHold    Kind = "hello-hold"
	KindKeepaliveLDP Kind = "ldp-keepalive"
)

// Token is delivered on the TIMER channel when a scheduled timer fires.
// Owner is opaque to the scheduler; callers use it to look up the peer,
// neighbor, or area the timer belongs to.
type Token struct {
	Owner string
	Kind  Kind
	// Generation lets a handler distinguish a fresh token from one that
	// raced a Reset; the scheduler never emits a token from a generation
	// that was cancelled before it fired, but handlers that keep their own
	// copy of the generation can use this as a second, cheap check.
	Generation uint64
}

func (t Token) String() string {
	return fmt.Sprintf("%s/%s#%d", t.Owner, t.Kind, t.Generation)
}

type entry struct {
	timer      *time.Timer
	generation uint64
	cancelled  bool
}

// Scheduler multiplexes every timer for one instance onto a single
// output channel. It is driven exclusively by the owning instance's
// single-threaded event loop.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	out     chan Token
}

func NewScheduler(bufferSize int) *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		out:     make(chan Token, bufferSize),
	}
}

// C returns the channel that expired tokens are delivered on.
func (s *Scheduler) C() <-chan Token {
	return s.out
}

func key(owner string, kind Kind) string {
	return owner + "\x00" + string(kind)
}

// Reset (re)schedules the (owner, kind) timer to fire after d. Calling
// Reset on an already-scheduled timer is an idempotent replace: the
// previous generation is cancelled first, so it can never be observed on
// the channel even if it was about to fire.
func (s *Scheduler) Reset(owner string, kind Kind, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(owner, kind)
	e, ok := s.entries[k]
	if ok {
		e.timer.Stop()
		e.generation++
		e.cancelled = false
	} else {
		e = &entry{}
		s.entries[k] = e
	}

	gen := e.generation
	e.timer = time.AfterFunc(d, func() {
		s.fire(k, gen)
	})
}

func (s *Scheduler) fire(k string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || e.cancelled || e.generation != gen {
		s.mu.Unlock()
		return
	}
	owner, kind := splitKey(k)
	s.mu.Unlock()

	// The send blocks this timer's own goroutine while the channel is
	// full (the instance event loop is behind); the token is delivered
	// once the loop reads from C().
	metrics.TimerFiringsTotal.WithLabelValues(string(kind)).Inc()
	s.out <- Token{Owner: owner, Kind: kind, Generation: gen}
}

func splitKey(k string) (string, Kind) {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return k[:i], Kind(k[i+1:])
		}
	}
	return k, ""
}

// Cancel stops the (owner, kind) timer. Synchronous: once Cancel returns,
// no expiry from the cancelled generation can appear on C().
func (s *Scheduler) Cancel(owner string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(owner, kind)
	e, ok := s.entries[k]
	if !ok {
		return
	}
	e.timer.Stop()
	e.cancelled = true
	e.generation++
}

// CancelOwner stops every timer belonging to owner in one pass, used
// when a peer, neighbor, or area is deleted.
func (s *Scheduler) CancelOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := owner + "\x00"
	for k, e := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			e.timer.Stop()
			e.cancelled = true
			e.generation++
		}
	}
}

// Active reports whether (owner, kind) has been scheduled and not
// cancelled since; a timer that has already fired still reports true
// until it is cancelled. Exposed for tests and NB operational-state reads.
func (s *Scheduler) Active(owner string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(owner, kind)]
	return ok && !e.cancelled
}
