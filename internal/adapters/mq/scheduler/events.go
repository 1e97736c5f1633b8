package scheduler

import (
	"time"

	"github.com/okian/skumatch/internal/domain/model"
)

// EventType names a job lifecycle event.
type EventType string

// Job events.
const (
	EventJobQueued    EventType = "job_queued"
	EventJobStarted   EventType = "job_started"
	EventJobProgress  EventType = "job_progress"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
)

// subscriberBuffer is the channel size per subscriber; slow subscribers miss events.
const subscriberBuffer = 64

// Event is a notification about a job. The job record stays the source of truth;
// events are a best-effort view of it.
type Event struct {
	Type     EventType         `json:"type"`
	JobID    string            `json:"jobId"`
	Status   model.JobStatus   `json:"status"`
	Progress model.Progress    `json:"progress"`
	Item     *model.ItemResult `json:"item,omitempty"`
	Error    string            `json:"error,omitempty"`
	At       time.Time         `json:"at"`
}

// Observer receives events synchronously. Implementations must not block.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Subscribe returns a channel of events and a function that ends the subscription.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subsMu.Lock()
	if s.subsClosed {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Scheduler) emit(e Event) {
	e.At = s.now()
	for _, o := range s.observers {
		o.OnEvent(e)
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Scheduler) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subsClosed = true
}
