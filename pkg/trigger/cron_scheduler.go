package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts second-precision expressions, per spec §4.E,
// rather than reproducing r3e-network-service_layer's own admittedly
// simplified parseNextCronExecution.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronEntry struct {
	schedule  cron.Schedule
	next      time.Time
	startTime *time.Time
	endTime   *time.Time
}

// CronScheduler is the singleton cron trigger scheduler (spec §4.E). Its
// initial next-due time is computed relative to registration time, not
// epoch.
type CronScheduler struct {
	mu      sync.Mutex
	entries map[LookupID]*cronEntry
}

// NewCronScheduler constructs an empty CronScheduler.
func NewCronScheduler() *CronScheduler {
	return &CronScheduler{entries: make(map[LookupID]*cronEntry)}
}

// Add registers a cron trigger. now is the registration time the
// initial next-due is computed relative to.
func (s *CronScheduler) Add(id LookupID, expr string, now time.Time, startTime, endTime *time.Time) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("trigger: invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &cronEntry{
		schedule:  schedule,
		next:      schedule.Next(now),
		startTime: startTime,
		endTime:   endTime,
	}
	return nil
}

// Remove deregisters id.
func (s *CronScheduler) Remove(id LookupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Tick returns every LookupId whose next-due time is <= now (and within
// its optional start/end bounds), advancing each fired entry's next-due
// to the subsequent schedule point strictly greater than now.
func (s *CronScheduler) Tick(now time.Time) []LookupID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []LookupID
	for id, e := range s.entries {
		if e.startTime != nil && now.Before(*e.startTime) {
			continue
		}
		if e.endTime != nil && now.After(*e.endTime) {
			continue
		}
		if !e.next.After(now) {
			fired = append(fired, id)
			e.next = e.schedule.Next(now)
		}
	}
	return fired
}
