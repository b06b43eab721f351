package appointmenttest

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"

	"github.com/Salad109/medical-office-manager/internal/appointment"
)

// DayCache is a map-backed appointment.DayCache that remembers which days were
// invalidated. Like the Redis cache it drops a Set whose version is stale.
type DayCache struct {
	mu          sync.Mutex
	days        map[civil.Date][]appointment.Appointment
	versions    map[civil.Date]int64
	invalidated []civil.Date
}

func NewDayCache() *DayCache {
	return &DayCache{
		days:     map[civil.Date][]appointment.Appointment{},
		versions: map[civil.Date]int64{},
	}
}

func (c *DayCache) Get(_ context.Context, d civil.Date) ([]appointment.Appointment, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.days[d]
	return v, c.versions[d], ok
}

func (c *DayCache) Set(_ context.Context, d civil.Date, version int64, appts []appointment.Appointment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[d] != version {
		return
	}
	c.days[d] = appts
}

func (c *DayCache) Invalidate(_ context.Context, d civil.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[d]++
	delete(c.days, d)
	c.invalidated = append(c.invalidated, d)
}

func (c *DayCache) Invalidated() []civil.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]civil.Date(nil), c.invalidated...)
}
