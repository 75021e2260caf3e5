package remindersvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shulesoft/ratiba/core"
	"github.com/shulesoft/ratiba/core/event"
)

// resync is one pending reminder resynchronization, recorded when a recurring
// event's start moved via a single-scope edit.
type resync struct {
	EventID  string
	OldStart time.Time
	NewStart time.Time
	SeenAt   time.Time
}

// Scheduler collects reschedule notifications from the event engine and
// flushes them to the reminder store on a fixed cadence. Flushing is batched:
// repeated moves of the same event within one window collapse into the last
// one seen.
type Scheduler struct {
	logger core.Logger
	cron   *cron.Cron
	flush  func(resyncs []resync)

	mu      sync.Mutex
	pending map[string]resync
}

var _ event.ReminderScheduler = (*Scheduler)(nil)

func NewScheduler(logger core.Logger) *Scheduler {
	s := &Scheduler{
		logger:  logger,
		cron:    cron.New(),
		pending: make(map[string]resync),
	}
	s.flush = s.logResyncs
	return s
}

// Start begins the periodic flush loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.dispatch); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop drains outstanding resyncs and stops the flush loop.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.dispatch()
}

func (s *Scheduler) NotifyReschedule(_ context.Context, eventID string, oldStart, newStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.pending[eventID]
	if ok {
		// keep the original old start so the reminder store sees one move
		rs.NewStart = newStart
	} else {
		rs = resync{EventID: eventID, OldStart: oldStart, NewStart: newStart, SeenAt: time.Now().UTC()}
	}
	s.pending[eventID] = rs
	return nil
}

func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]resync, 0, len(s.pending))
	for _, rs := range s.pending {
		batch = append(batch, rs)
	}
	s.pending = make(map[string]resync)
	s.mu.Unlock()

	s.flush(batch)
}

func (s *Scheduler) logResyncs(resyncs []resync) {
	for _, rs := range resyncs {
		s.logger.Info(fmt.Sprintf("reminder resync: event %s moved %s -> %s",
			rs.EventID, rs.OldStart.Format(time.RFC3339), rs.NewStart.Format(time.RFC3339)))
	}
}

// Pending returns the number of queued resyncs; used by the debug endpoint.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
