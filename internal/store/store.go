package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

var (
	// ErrNotFound is returned by Remove when the record is already gone.
	ErrNotFound = errors.New("record not found")

	// ErrIDSpaceExhausted is returned by NextID when the room already
	// holds the largest representable id.
	ErrIDSpaceExhausted = errors.New("room id space exhausted")
)

// MessageStore persists and loads the messages of a room.
// FileStore, SQLiteStore, PostgresStore and RedisStore implement it.
type MessageStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// NextID returns the highest stored id in the room plus one, or 1 for
	// an empty room. It reads current state and reserves nothing.
	NextID(ctx context.Context, r room.Room) (uint64, error)

	// Save writes msg keyed by its id, replacing any record with the same
	// id. Readers never observe a partially written record.
	Save(ctx context.Context, msg *models.Message) error

	// LoadAll returns every decodable record in the room in ascending id
	// order. Records that fail to decode are skipped.
	LoadAll(ctx context.Context, r room.Room) ([]models.Message, error)
}

// Record describes a stored message for expiration purposes.
type Record struct {
	Room       room.Room
	ID         uint64
	ModifiedAt time.Time
}

// Expirable is the enumeration and deletion surface the sweeper needs.
type Expirable interface {
	Rooms(ctx context.Context) ([]room.Room, error)
	Records(ctx context.Context, r room.Room) ([]Record, error)
	Remove(ctx context.Context, r room.Room, id uint64) error
}

// IDAllocator is implemented by backends that can hand out ids
// atomically, without a read-then-write race between writers.
type IDAllocator interface {
	AllocateID(ctx context.Context, r room.Room) (uint64, error)
}

// Backend is a complete storage backend.
type Backend interface {
	MessageStore
	Expirable
	Name() string
}

func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

func roomOf(msg *models.Message) (room.Room, error) {
	return room.Validate(msg.Room)
}
