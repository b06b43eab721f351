package redisclient

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/metrics"
)

const (
	defaultDayTTL = 30 * time.Second
	versionTTL    = 24 * time.Hour
)

// staleVersion never matches a stored version; Get hands it out when Redis
// could not be read so the following Set is skipped.
const staleVersion = -1

// DayCache stores appointment.Service.List results per date. Every failure is
// logged and reported as a miss so callers fall through to Postgres.
//
// Each day has a version key bumped by Invalidate. Set writes only while the
// version still equals the one Get reported on the miss.
type DayCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

var _ appointment.DayCache = (*DayCache)(nil)

func NewDayCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *DayCache {
	if ttl <= 0 {
		ttl = defaultDayTTL
	}
	return &DayCache{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "day_cache").Logger(),
	}
}

func dayKey(date civil.Date) string {
	return "appointments:day:" + date.String()
}

func versionKey(date civil.Date) string {
	return dayKey(date) + ":v"
}

// setIfVersionScript writes KEYS[1] only when KEYS[2] (missing counts as 0)
// equals ARGV[1].
var setIfVersionScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or "0"
if current == ARGV[1] then
  return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  return 0
end
`)

func parseVersion(v any) (int64, bool) {
	switch s := v.(type) {
	case nil:
		return 0, true
	case string:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (c *DayCache) Get(ctx context.Context, date civil.Date) ([]appointment.Appointment, int64, bool) {
	vals, err := c.client.MGet(ctx, dayKey(date), versionKey(date)).Result()
	if err != nil || len(vals) != 2 {
		metrics.DayCacheLookups.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("date", date.String()).Msg("day cache read failed")
		return nil, staleVersion, false
	}

	version, ok := parseVersion(vals[1])
	if !ok {
		metrics.DayCacheLookups.WithLabelValues("error").Inc()
		c.log.Warn().Str("date", date.String()).Msg("day cache version unreadable")
		return nil, staleVersion, false
	}

	raw, ok := vals[0].(string)
	if !ok {
		metrics.DayCacheLookups.WithLabelValues("miss").Inc()
		return nil, version, false
	}

	var appts []appointment.Appointment
	if err := json.Unmarshal([]byte(raw), &appts); err != nil {
		metrics.DayCacheLookups.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("date", date.String()).Msg("day cache entry unreadable")
		return nil, version, false
	}

	metrics.DayCacheLookups.WithLabelValues("hit").Inc()
	return appts, version, true
}

func (c *DayCache) Set(ctx context.Context, date civil.Date, version int64, appts []appointment.Appointment) {
	if version < 0 {
		return
	}
	raw, err := json.Marshal(appts)
	if err != nil {
		c.log.Warn().Err(err).Msg("encode day cache entry")
		return
	}

	keys := []string{dayKey(date), versionKey(date)}
	err = setIfVersionScript.Run(ctx, c.client, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Err()
	if err != nil {
		c.log.Warn().Err(err).Str("date", date.String()).Msg("day cache write failed")
	}
}

// Invalidate runs after commit. It bumps the day version and drops the cached
// listing in one MULTI, detached from ctx cancellation so a client that hung
// up does not leave a stale day behind.
func (c *DayCache) Invalidate(ctx context.Context, date civil.Date) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(date))
		pipe.Expire(ctx, versionKey(date), versionTTL)
		pipe.Del(ctx, dayKey(date))
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("date", date.String()).Msg("day cache invalidation failed")
	}
}
