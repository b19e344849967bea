package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	StageProgress  = "progress"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

const subscriberBuffer = 16

type ProgressEvent struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether no further events follow for the session.
func (e ProgressEvent) Terminal() bool {
	return e.Stage == StageCompleted || e.Stage == StageFailed
}

// Broker fans progress events out to per-session subscribers. Publishing
// never blocks: a full subscriber buffer drops the event for that subscriber.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ProgressEvent]struct{}
	seq         map[string]int64
	now         func() time.Time
}

func NormalizeStage(stage string) string {
	return strings.TrimSpace(strings.ToLower(stage))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan ProgressEvent]struct{}{},
		seq:         map[string]int64{},
		now:         time.Now,
	}
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[chan ProgressEvent]struct{}{}
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[sessionID] != nil {
			delete(b.subscribers[sessionID], ch)
			if len(b.subscribers[sessionID]) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish assigns the next sequence number for the session when Seq is
// zero and stamps the event. The lock is held while sending so a
// subscriber channel is never closed mid-send.
func (b *Broker) Publish(event ProgressEvent) ProgressEvent {
	event.Stage = NormalizeStage(event.Stage)
	if event.Stage == "" {
		event.Stage = StageProgress
	}

	b.mu.Lock()
	if event.Seq == 0 {
		b.seq[event.SessionID]++
		event.Seq = b.seq[event.SessionID]
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}
	if event.Terminal() {
		delete(b.seq, event.SessionID)
	}
	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()

	return event
}

// Reporter returns a progress callback that publishes each message for
// sessionID.
func (b *Broker) Reporter(sessionID string) func(message string) {
	return func(message string) {
		b.Publish(ProgressEvent{SessionID: sessionID, Stage: StageProgress, Message: message})
	}
}

func (b *Broker) Complete(sessionID string, message string) {
	b.Publish(ProgressEvent{SessionID: sessionID, Stage: StageCompleted, Message: message})
}

func (b *Broker) Fail(sessionID string, message string) {
	b.Publish(ProgressEvent{SessionID: sessionID, Stage: StageFailed, Message: message})
}
