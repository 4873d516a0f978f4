package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	maxWatchRetries = 5

	fillLockTTL  = 10 * time.Minute
	fillLockPoll = 200 * time.Millisecond
)

// RedisStore is the shared cache backend for multi-instance deployments.
// Each entry is a hash under EntryKey(fingerprint).
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts), now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (c *RedisStore) WithClock(now func() time.Time) *RedisStore {
	c.now = now
	return c
}

func (c *RedisStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (c *RedisStore) Close() error {
	return c.client.Close()
}

// lookupScript reads an entry and records the access in one step. A key
// missing its created_at field is a partial write or a deleted entry and
// reads as a miss without being touched.
var lookupScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "created_at") == 0 then
	return {}
end
redis.call("HINCRBY", KEYS[1], "access_count", 1)
redis.call("HSET", KEYS[1], "last_accessed_at", ARGV[1])
return redis.call("HGETALL", KEYS[1])
`)

func (c *RedisStore) Lookup(ctx context.Context, fp string) (*Entry, bool, error) {
	now := c.now().UTC()
	res, err := lookupScript.Run(ctx, c.client, []string{EntryKey(fp)}, now.UnixNano()).StringSlice()
	if err != nil {
		return nil, false, unavailable("lookup", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	if !complete(fields) {
		return nil, false, nil
	}
	e := decodeEntry(fp, fields)
	return &e, true, nil
}

func (c *RedisStore) Put(ctx context.Context, fp string, p Payload) error {
	key := EntryKey(fp)
	now := c.now().UTC()

	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		created := now
		if complete(cur) {
			existing := decodeEntry(fp, cur)
			if existing.Payload.Equal(p) {
				return nil
			}
			created = existing.CreatedAt
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"text", p.Text,
				"ocr_in", p.OCRUsage.Input,
				"ocr_out", p.OCRUsage.Output,
				"corr_in", p.CorrectionUsage.Input,
				"corr_out", p.CorrectionUsage.Output,
				"size_bytes", p.Size(),
				"created_at", created.UnixNano(),
				"last_accessed_at", now.UnixNano(),
			)
			pipe.HSetNX(ctx, key, "access_count", 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = c.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return unavailable("store", err)
	}
	return nil
}

func (c *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, entryPattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (c *RedisStore) all(ctx context.Context) ([]Entry, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if !complete(fields) {
			continue
		}
		out = append(out, decodeEntry(fingerprintFromKey(keys[i]), fields))
	}
	return out, nil
}

func (c *RedisStore) Evict(ctx context.Context, policy EvictPolicy) (EvictReport, error) {
	entries, err := c.all(ctx)
	if err != nil {
		return EvictReport{}, unavailable("evict", err)
	}

	expired, lru := planEviction(entries, policy, c.now().UTC())
	var report EvictReport
	del := make([]string, 0, len(expired)+len(lru))
	for _, e := range expired {
		del = append(del, EntryKey(e.Fingerprint))
		report.RemovedExpired++
		report.BytesFreed += e.SizeBytes
	}
	for _, e := range lru {
		del = append(del, EntryKey(e.Fingerprint))
		report.RemovedLRU++
		report.BytesFreed += e.SizeBytes
	}
	if len(del) > 0 {
		if err := c.client.Del(ctx, del...).Err(); err != nil {
			return EvictReport{}, unavailable("evict", err)
		}
	}
	return report, nil
}

func (c *RedisStore) Stats(ctx context.Context) (Stats, error) {
	entries, err := c.all(ctx)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return summarize(entries), nil
}

func (c *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return 0, unavailable("clear", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable("clear", err)
	}
	return int(n), nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockFill takes the cross-instance fill lock for fp, polling until it is
// free or ctx is done. The lock expires after fillLockTTL if its holder dies.
func (c *RedisStore) LockFill(ctx context.Context, fp string) (func(), error) {
	key := FillLockKey(fp)
	token := uuid.NewString()

	ticker := time.NewTicker(fillLockPoll)
	defer ticker.Stop()
	for {
		ok, err := c.client.SetNX(ctx, key, token, fillLockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, unavailable("lock", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	release := context.WithoutCancel(ctx)
	return func() {
		_ = unlockScript.Run(release, c.client, []string{key}, token).Err()
	}, nil
}

// IncrWithExpiry increments key and (re)sets its expiry. Used for API rate
// limiting.
func (c *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// complete reports whether a hash holds a fully written entry.
func complete(f map[string]string) bool {
	_, text := f["text"]
	_, created := f["created_at"]
	return text && created
}

func decodeEntry(fp string, f map[string]string) Entry {
	e := Entry{Fingerprint: fp}
	e.Payload.Text = f["text"]
	e.Payload.OCRUsage.Input = parseInt(f["ocr_in"])
	e.Payload.OCRUsage.Output = parseInt(f["ocr_out"])
	e.Payload.CorrectionUsage.Input = parseInt(f["corr_in"])
	e.Payload.CorrectionUsage.Output = parseInt(f["corr_out"])
	e.SizeBytes = parseInt(f["size_bytes"])
	e.AccessCount = parseInt(f["access_count"])
	e.CreatedAt = time.Unix(0, parseInt(f["created_at"])).UTC()
	e.LastAccessedAt = time.Unix(0, parseInt(f["last_accessed_at"])).UTC()
	return e
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var (
	_ Store      = (*RedisStore)(nil)
	_ FillLocker = (*RedisStore)(nil)
)
