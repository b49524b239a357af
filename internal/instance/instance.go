// Package instance implements the per-instance event loop and channel
// multiplexer: each protocol instance awaits the first-available of its
// NB-IN, PROTO, IBUS and TIMER channels, runs the matching handler to
// completion without yielding, then runs a fixed post-processing
// sequence before returning to await the next event.
package instance

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/timer"
)

// Handlers binds the per-protocol behavior driven by the loop. Each
// protocol package (bgp, ospf, ldp) supplies one; the loop itself knows
// nothing about BGP UPDATEs or OSPF LSAs.
type Handlers struct {
	// HandleNB processes one northbound request (config transaction or
	// RPC) read from the NB-IN channel.
	HandleNB func(msg any)
	// HandleProto processes one decoded protocol message or socket
	// lifecycle event read from the PROTO channel.
	HandleProto func(msg any)
	// HandleIBus processes one interface/address/redistribution event
	// read from the IBUS channel.
	HandleIBus func(msg any)
	// HandleTimer processes one expired timer token.
	HandleTimer func(tok timer.Token)

	// HandleEvent processes one Event drained from the queue accumulated
	// during the handler that just ran (post-processing step (a)).
	HandleEvent func(ev event.Event)
	// AdvanceDecision runs the decision process / SPF if the instance is
	// dirty (post-processing step (b)).
	AdvanceDecision func()
	// FlushOutbound flushes queued outbound protocol messages for peers
	// whose write-queue is non-empty and whose MRAI permits (step (c)).
	FlushOutbound func()
}

// Loop is the single execution context an instance runs in: cooperative
// and single-threaded per instance. It must only ever be driven by one
// goroutine; Run blocks until ctx is cancelled or Stop is called.
type Loop struct {
	NBIn    chan any
	ProtoIn chan any
	IBusIn  chan any
	Timers  *timer.Scheduler
	Queue   *event.Queue

	H      Handlers
	Logger *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewLoop(bufferSize int, logger *zap.Logger) *Loop {
	return &Loop{
		NBIn:    make(chan any, bufferSize),
		ProtoIn: make(chan any, bufferSize),
		IBusIn:  make(chan any, bufferSize),
		Timers:  timer.NewScheduler(bufferSize),
		Queue:   &event.Queue{},
		Logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Stop asks Run to return after finishing any handler currently in
// progress; it does not drop messages already queued on a channel.
// Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run is the event loop proper. Each iteration awaits exactly one of the
// four input channels, runs the matching handler to completion, then
// performs the fixed post-processing sequence before looping. The only
// suspension point is the top-of-loop select.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return

		case msg := <-l.NBIn:
			l.dispatch(func() { l.H.HandleNB(msg) })

		case msg := <-l.ProtoIn:
			l.dispatch(func() { l.H.HandleProto(msg) })

		case msg := <-l.IBusIn:
			l.dispatch(func() { l.H.HandleIBus(msg) })

		case tok := <-l.Timers.C():
			l.dispatch(func() { l.H.HandleTimer(tok) })
		}
	}
}

// dispatch runs one handler to completion and then the fixed
// post-processing sequence: (a) drain the Event queue, (b) advance the
// decision process if dirty, (c) flush outbound messages, (d) return to
// awaiting channels (handled implicitly by returning to Run's select).
func (l *Loop) dispatch(handler func()) {
	handler()

	for _, ev := range l.Queue.Drain() {
		if l.H.HandleEvent != nil {
			l.H.HandleEvent(ev)
		}
	}

	if l.H.AdvanceDecision != nil {
		l.H.AdvanceDecision()
	}
	if l.H.FlushOutbound != nil {
		l.H.FlushOutbound()
	}
}
