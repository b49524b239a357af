package instance

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/event"
	"github.com/holo-routing/routingd/internal/timer"
)

func TestDispatchRunsPostProcessingSequence(t *testing.T) {
	l := NewLoop(4, zap.NewNop())

	var order []string
	l.H = Handlers{
		HandleNB: func(msg any) {
			order = append(order, "handle:"+msg.(string))
			l.Queue.Push(event.Event{Kind: event.InstanceUpdate})
		},
		HandleEvent: func(ev event.Event) {
			order = append(order, "event:"+ev.Kind.String())
		},
		AdvanceDecision: func() {
			order = append(order, "decision")
		},
		FlushOutbound: func() {
			order = append(order, "flush")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.NBIn <- "config"
	time.Sleep(20 * time.Millisecond)
	l.Stop()

	want := []string{"handle:config", "event:InstanceUpdate", "decision", "flush"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestTimerChannelFeedsHandleTimer(t *testing.T) {
	l := NewLoop(4, zap.NewNop())
	fired := make(chan string, 1)
	l.H = Handlers{
		HandleTimer: func(tok timer.Token) {
			fired <- tok.String()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Timers.Reset("peer1", timer.KindHold, 5*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timer never reached HandleTimer")
	}
	l.Stop()
}
