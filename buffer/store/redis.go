package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisStore is a Store backed by Redis, suitable when producers are
// spread across processes. Each pending entry is a Redis hash: counter
// deltas live in "d:"-prefixed fields (merged with HINCRBY), overwrite
// fields in "e:"-prefixed fields, and the entity kind and filters in the
// "k" and "f" meta fields. A set tracks which keys are pending so a
// drain does not need to scan the keyspace.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed store. All keys are placed
// under the "buf:" namespace.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "buf:"}
}

// addScript merges one update into the pending hash for a key and marks
// the key pending, atomically.
//
// KEYS[1] = entry hash key
// KEYS[2] = pending set key
// ARGV[1] = entity kind
// ARGV[2] = filters, JSON-encoded
// ARGV[3] = number of delta pairs that follow
// ARGV[4..] = col, delta pairs, then extra name, value pairs
var addScript = redis.NewScript(`
local key = KEYS[1]
redis.call("HSET", key, "k", ARGV[1], "f", ARGV[2])
local ndeltas = tonumber(ARGV[3])
local i = 4
for n = 1, ndeltas do
    redis.call("HINCRBY", key, "d:" .. ARGV[i], ARGV[i+1])
    i = i + 2
end
while i < #ARGV do
    redis.call("HSET", key, "e:" .. ARGV[i], ARGV[i+1])
    i = i + 2
end
redis.call("SADD", KEYS[2], key)
return redis.status_reply("OK")
`)

// takeScript removes one pending hash and returns its contents.
//
// KEYS[1] = entry hash key
// KEYS[2] = pending set key
var takeScript = redis.NewScript(`
local data = redis.call("HGETALL", KEYS[1])
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], KEYS[1])
return data
`)

// takeListScript removes one pending callback list and returns its contents.
//
// KEYS[1] = callback list key
// KEYS[2] = pending callback set key
// ARGV[1] = callback name
var takeListScript = redis.NewScript(`
local vals = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return vals
`)

// Add merges e into the pending hash for e.Key.
func (r *RedisStore) Add(ctx context.Context, e Entry) error {
	filters, err := json.Marshal(e.Filters)
	if err != nil {
		return fmt.Errorf("buffer/store: encode filters: %w", err)
	}

	argv := make([]interface{}, 0, 3+2*len(e.Deltas)+2*len(e.Extra))
	argv = append(argv, e.Kind, string(filters), len(e.Deltas))
	for col, d := range e.Deltas {
		argv = append(argv, col, d)
	}
	for k, v := range e.Extra {
		argv = append(argv, k, v)
	}

	keys := []string{r.entryKey(e.Key), r.pendingKey()}
	if err := addScript.Run(ctx, r.client, keys, argv...).Err(); err != nil {
		return fmt.Errorf("buffer/store: add: %w", err)
	}
	return nil
}

// AddCallback appends values to the pending list for name.
func (r *RedisStore) AddCallback(ctx context.Context, name string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	argv := make([]interface{}, len(values))
	for i, v := range values {
		argv[i] = v
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.callbackKey(name), argv...)
	pipe.SAdd(ctx, r.pendingCallbackKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer/store: add callback: %w", err)
	}
	return nil
}

// Drain atomically removes and returns all pending entries. Each key is
// taken with a single script call, so an Add racing the drain either
// lands before the take (and is included) or after (and stays pending
// for the next drain); no update is lost or returned twice.
func (r *RedisStore) Drain(ctx context.Context) ([]Entry, error) {
	keys, err := r.client.SMembers(ctx, r.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("buffer/store: drain: %w", err)
	}

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		pairs, err := takeScript.Run(ctx, r.client, []string{key, r.pendingKey()}).StringSlice()
		if err != nil {
			return out, fmt.Errorf("buffer/store: take %s: %w", key, err)
		}
		if len(pairs) == 0 {
			// Already taken by a concurrent drain.
			continue
		}
		fields := make(map[string]string, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			fields[pairs[i]] = pairs[i+1]
		}
		e, err := r.decodeEntry(key, fields)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DrainCallbacks atomically removes and returns all pending callback values.
func (r *RedisStore) DrainCallbacks(ctx context.Context) (map[string][]string, error) {
	names, err := r.client.SMembers(ctx, r.pendingCallbackKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("buffer/store: drain callbacks: %w", err)
	}

	out := make(map[string][]string, len(names))
	for _, name := range names {
		keys := []string{r.callbackKey(name), r.pendingCallbackKey()}
		vals, err := takeListScript.Run(ctx, r.client, keys, name).StringSlice()
		if err != nil {
			return out, fmt.Errorf("buffer/store: take callback %s: %w", name, err)
		}
		if len(vals) == 0 {
			continue
		}
		out[name] = vals
	}
	return out, nil
}

// Len reports the number of distinct identity keys currently pending.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("buffer/store: len: %w", err)
	}
	return int(n), nil
}

// Validate checks connectivity to the Redis server.
func (r *RedisStore) Validate(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("buffer/store: redis unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) decodeEntry(redisKey string, fields map[string]string) (Entry, error) {
	e := Entry{
		Key:    strings.TrimPrefix(redisKey, r.prefix+"i:"),
		Kind:   fields["k"],
		Deltas: make(map[string]int64),
	}

	if f := fields["f"]; f != "" {
		if err := json.Unmarshal([]byte(f), &e.Filters); err != nil {
			return Entry{}, fmt.Errorf("buffer/store: decode filters for %s: %w", redisKey, err)
		}
	}

	for field, val := range fields {
		switch {
		case strings.HasPrefix(field, "d:"):
			d, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Entry{}, fmt.Errorf("buffer/store: parse delta %s for %s: %w", field, redisKey, err)
			}
			e.Deltas[strings.TrimPrefix(field, "d:")] = d
		case strings.HasPrefix(field, "e:"):
			if e.Extra == nil {
				e.Extra = make(map[string]string)
			}
			e.Extra[strings.TrimPrefix(field, "e:")] = val
		}
	}
	return e, nil
}

func (r *RedisStore) entryKey(key string) string {
	return r.prefix + "i:" + key
}

func (r *RedisStore) callbackKey(name string) string {
	return r.prefix + "cb:" + name
}

func (r *RedisStore) pendingKey() string {
	return r.prefix + "pending"
}

func (r *RedisStore) pendingCallbackKey() string {
	return r.prefix + "pending:cb"
}
