package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

const roomsKey = "rooms"

// removeScript deletes one message and drops the room from the room set
// once its hash is empty, atomically with respect to concurrent saves.
var removeScript = redis.NewScript(`
local n = redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('HLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[2])
end
return n
`)

// allocateScript increments the room counter, first seeding a missing
// counter from the highest id in the room hash so a lost counter never
// hands out an id that is still stored. ARGV[1] is the counter TTL in
// milliseconds, 0 for none.
var allocateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	local highest, top = 0, '0'
	for _, f in ipairs(redis.call('HKEYS', KEYS[2])) do
		local n = tonumber(f)
		if n and n > highest then
			highest, top = n, f
		end
	end
	redis.call('SET', KEYS[1], top)
end
local id = redis.call('INCR', KEYS[1])
if tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return id
`)

// RedisStore keeps each room as a hash of id → JSON record, a sorted set
// of ids scored by storage time, and a sequence counter.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
	now    func() time.Time
	seqTTL time.Duration
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisStore, error) {
	client, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(client, logger), nil
}

// NewRedisClient connects to redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redisstore").Logger(),
		now:    time.Now,
	}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// SetSequenceTTL expires a room's id counter d after its last allocation.
// With d set to the retention window, counters of fully expired rooms do
// not accumulate. Zero keeps counters forever.
func (s *RedisStore) SetSequenceTTL(d time.Duration) {
	s.seqTTL = d
}

// Name identifies the backend.
func (s *RedisStore) Name() string { return "redis" }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message hash.
func roomMessagesKey(r room.Room) string {
	return r.Key("messages")
}

// roomStoredKey returns the key for a room's storage-time sorted set.
func roomStoredKey(r room.Room) string {
	return r.Key("stored")
}

// roomSeqKey returns the key for a room's id counter.
func roomSeqKey(r room.Room) string {
	return r.Key("seq")
}

// NextID returns the highest id field in the room hash plus one.
func (s *RedisStore) NextID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "next_id", time.Now())

	fields, err := s.client.HKeys(ctx, roomMessagesKey(r)).Result()
	if err != nil {
		return 0, err
	}

	var highest uint64
	for _, f := range fields {
		if id, err := strconv.ParseUint(f, 10, 64); err == nil && id > highest {
			highest = id
		}
	}
	if highest == math.MaxUint64 {
		return 0, fmt.Errorf("room %s: %w", r, ErrIDSpaceExhausted)
	}
	return highest + 1, nil
}

// AllocateID increments the room counter. Ids are not reused while the
// counter lives; once it expires the next id follows the highest stored
// one.
func (s *RedisStore) AllocateID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "allocate_id", time.Now())

	n, err := allocateScript.Run(ctx, s.client,
		[]string{roomSeqKey(r), roomMessagesKey(r)},
		s.seqTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// Save writes the record, its storage time and the room membership in
// one transaction.
func (s *RedisStore) Save(ctx context.Context, msg *models.Message) error {
	defer observe(s.Name(), "save", time.Now())

	r, err := roomOf(msg)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.ID, err)
	}

	field := strconv.FormatUint(msg.ID, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomMessagesKey(r), field, data)
		pipe.ZAdd(ctx, roomStoredKey(r), redis.Z{
			Score:  float64(s.now().UnixMilli()),
			Member: field,
		})
		pipe.SAdd(ctx, roomsKey, r.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving message %d: %w", msg.ID, err)
	}
	return nil
}

// LoadAll decodes every record in the room hash, skipping values that fail
// to decode.
func (s *RedisStore) LoadAll(ctx context.Context, r room.Room) ([]models.Message, error) {
	defer observe(s.Name(), "load_all", time.Now())

	values, err := s.client.HGetAll(ctx, roomMessagesKey(r)).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(values))
	for field, data := range values {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			metrics.CorruptRecordsSkipped.WithLabelValues(s.Name()).Inc()
			s.logger.Warn().
				Err(err).
				Str("room", r.String()).
				Str("record", field).
				Msg("skipping unreadable record")
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

// Rooms lists the room set.
func (s *RedisStore) Rooms(ctx context.Context) ([]room.Room, error) {
	names, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, err
	}
	return validRooms(names), nil
}

// Records lists the room's ids with their storage times.
func (s *RedisStore) Records(ctx context.Context, r room.Room) ([]Record, error) {
	entries, err := s.client.ZRangeWithScores(ctx, roomStoredKey(r), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		records = append(records, Record{
			Room:       r,
			ID:         id,
			ModifiedAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return records, nil
}

// Remove deletes one message.
func (s *RedisStore) Remove(ctx context.Context, r room.Room, id uint64) error {
	n, err := removeScript.Run(ctx, s.client,
		[]string{roomMessagesKey(r), roomStoredKey(r), roomsKey},
		strconv.FormatUint(id, 10), r.String(),
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
