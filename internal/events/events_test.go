package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func receiveEvent(t *testing.T, ch <-chan ProgressEvent) ProgressEvent {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return ev
	case <-timer.C:
		t.Fatal("timed out waiting for event")
	}

	return ProgressEvent{}
}

func waitForClosed(t *testing.T, ch <-chan ProgressEvent) {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestNewBroker(t *testing.T) {
	b := NewBroker()
	if b == nil {
		t.Fatal("expected broker")
	}
	if b.subscribers == nil || b.seq == nil {
		t.Fatal("expected initialized maps")
	}
}

func TestSubscribe_Single(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "session-1")

	b.mu.RLock()
	count := len(b.subscribers["session-1"])
	b.mu.RUnlock()
	if count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	cancel()
	waitForClosed(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["session-1"]
	b.mu.RUnlock()
	if exists {
		t.Fatal("subscriber not removed")
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroker()
	event := b.Publish(ProgressEvent{SessionID: "session-1", Message: "hello"})
	if event.Seq != 1 || event.Stage != StageProgress {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestPublish_AssignsSequenceAndTimestamp(t *testing.T) {
	b := NewBroker()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "session-1")
	report := b.Reporter("session-1")
	report("Classifying query")
	report("Running direct strategy for factual query")
	b.Complete("session-1", "Research complete")

	first := receiveEvent(t, ch)
	second := receiveEvent(t, ch)
	last := receiveEvent(t, ch)
	if first.Seq != 1 || second.Seq != 2 || last.Seq != 3 {
		t.Fatalf("unexpected sequence: %d %d %d", first.Seq, second.Seq, last.Seq)
	}
	if first.Message != "Classifying query" || !first.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if !last.Terminal() || last.Stage != StageCompleted {
		t.Fatalf("expected terminal completed event, got %+v", last)
	}

	// a terminal event restarts numbering for the next run of the session
	next := b.Publish(ProgressEvent{SessionID: "session-1", Stage: " FAILED "})
	if next.Seq != 1 || next.Stage != StageFailed {
		t.Fatalf("unexpected event after terminal: %+v", next)
	}
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "session-1")
	for i := 0; i < subscriberBuffer; i++ {
		b.Publish(ProgressEvent{SessionID: "session-1"})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected full buffer, got %d", len(ch))
	}
	b.Publish(ProgressEvent{SessionID: "session-1"})
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected dropped event, got %d", len(ch))
	}

	cancel()
	waitForClosed(t, ch)
}

func TestPublish_MultipleSubscribers(t *testing.T) {
	b := NewBroker()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	ch1 := b.Subscribe(ctx1, "session-1")
	ch2 := b.Subscribe(ctx2, "session-1")

	b.Fail("session-1", "Research failed")

	if ev := receiveEvent(t, ch1); ev.Stage != StageFailed {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev := receiveEvent(t, ch2); ev.Stage != StageFailed {
		t.Fatalf("unexpected event: %+v", ev)
	}

	cancel1()
	cancel2()
	waitForClosed(t, ch1)
	waitForClosed(t, ch2)
}

func TestPublish_DifferentSessions(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "session-2")
	b.Publish(ProgressEvent{SessionID: "session-1", Message: "other"})

	select {
	case <-ch:
		t.Fatal("unexpected event for different session")
	default:
	}

	cancel()
	waitForClosed(t, ch)
}

func TestConcurrent_SubscribePublishCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var mu sync.Mutex
	chans := make([]<-chan ProgressEvent, 0, 32)

	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(ctx, "session-1")
			mu.Lock()
			chans = append(chans, ch)
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			b.Publish(ProgressEvent{SessionID: "session-1", Message: "tick"})
		}()
	}
	wg.Wait()
	cancel()

	for _, ch := range chans {
		waitForClosed(t, ch)
	}

	b.mu.RLock()
	count := len(b.subscribers)
	b.mu.RUnlock()
	if count != 0 {
		t.Fatalf("expected no subscribers, got %d", count)
	}
}
