package pointer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/malu/artifact"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRecorder() (*Recorder, *manualClock) {
	c := &manualClock{t: time.Unix(1700000000, 0)}
	return NewRecorder(WithClock(c.now)), c
}

func TestRecorder_CoalescesMovesPerFrame(t *testing.T) {
	r, c := newTestRecorder()
	r.Start()

	for i := range 5 {
		c.advance(2 * time.Millisecond)
		r.HandleMove(Event{X: float64(i), Y: float64(i)})
	}
	r.Flush()
	r.Flush() // nothing pending

	got := r.Stop()
	if len(got) != 1 {
		t.Fatalf("samples: got %d, want 1", len(got))
	}
	if got[0].X != 4 || got[0].TimestampMs != 10 || got[0].Kind != artifact.KindMove {
		t.Errorf("latest move not kept: %+v", got[0])
	}
}

func TestRecorder_ClicksImmediate(t *testing.T) {
	r, c := newTestRecorder()
	r.Start()
	c.advance(100 * time.Millisecond)
	r.HandleMove(Event{X: 1, Y: 1})
	c.advance(5 * time.Millisecond)
	r.HandleClick(Event{X: 2, Y: 2, ScreenX: artifact.Float(20), ScreenY: artifact.Float(30)})
	if r.Len() != 1 {
		t.Fatalf("click not stored immediately: %d", r.Len())
	}
	r.Flush()

	got := r.Stop()
	if len(got) != 2 {
		t.Fatalf("samples: got %d, want 2", len(got))
	}
	// The move happened first even though it was flushed after the click.
	if got[0].Kind != artifact.KindMove || got[1].Kind != artifact.KindClick {
		t.Errorf("order: %+v", got)
	}
	if got[1].TimestampMs != 105 || !got[1].HasScreen() {
		t.Errorf("click: %+v", got[1])
	}
}

func TestRecorder_DisarmedIgnoresInput(t *testing.T) {
	r, _ := newTestRecorder()
	r.HandleClick(Event{})
	r.HandleMove(Event{})
	r.Flush()
	if r.Len() != 0 {
		t.Fatalf("disarmed recorder stored %d samples", r.Len())
	}
}

func TestRecorder_StopClears(t *testing.T) {
	r, _ := newTestRecorder()
	r.Start()
	r.HandleClick(Event{X: 1})
	if got := r.Stop(); len(got) != 1 {
		t.Fatalf("first stop: %d", len(got))
	}
	if got := r.Stop(); len(got) != 0 {
		t.Fatalf("second stop: %d", len(got))
	}
	r.HandleClick(Event{X: 1})
	if r.Len() != 0 {
		t.Error("stopped recorder still collecting")
	}
}

func TestRecorder_RestartResetsClock(t *testing.T) {
	r, c := newTestRecorder()
	r.Start()
	c.advance(time.Second)
	r.Start()
	c.advance(40 * time.Millisecond)
	r.HandleClick(Event{})
	got := r.Stop()
	if got[0].TimestampMs != 40 {
		t.Errorf("timestamp: got %d, want 40", got[0].TimestampMs)
	}
}

func TestRecorder_RunFlushes(t *testing.T) {
	r := NewRecorder()
	r.Start()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()
	r.HandleMove(Event{X: 9})
	deadline := time.Now().Add(time.Second)
	for r.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if got := r.Stop(); len(got) != 1 || got[0].X != 9 {
		t.Fatalf("got %+v", got)
	}
}
