package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "pgstore").Logger(),
		now:    time.Now,
	}
	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations creates tables and indexes if they don't exist.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			room CHAR(16) NOT NULL,
			id BIGINT NOT NULL,
			sender TEXT NOT NULL,
			sender_iv TEXT NOT NULL,
			content TEXT NOT NULL,
			iv TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room, id)
		);

		CREATE TABLE IF NOT EXISTS room_seq (
			room CHAR(16) PRIMARY KEY,
			last_id BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_stored_at ON messages(stored_at);
	`)
	return err
}

// Name identifies the backend.
func (s *PostgresStore) Name() string { return "postgres" }

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// NextID returns MAX(id)+1 for the room.
func (s *PostgresStore) NextID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "next_id", time.Now())

	var next int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE room = $1
	`, r.String()).Scan(&next)
	return uint64(next), err
}

// AllocateID bumps the room's sequence row atomically. Safe across
// processes sharing the database.
func (s *PostgresStore) AllocateID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "allocate_id", time.Now())

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO room_seq (room, last_id)
		VALUES ($1, (SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE room = $1))
		ON CONFLICT (room) DO UPDATE SET last_id = room_seq.last_id + 1
		RETURNING last_id
	`, r.String()).Scan(&id)
	return uint64(id), err
}

// Save upserts the message.
func (s *PostgresStore) Save(ctx context.Context, msg *models.Message) error {
	defer observe(s.Name(), "save", time.Now())

	r, err := roomOf(msg)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (room, id, sender, sender_iv, content, iv, timestamp, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room, id) DO UPDATE SET
			sender = EXCLUDED.sender,
			sender_iv = EXCLUDED.sender_iv,
			content = EXCLUDED.content,
			iv = EXCLUDED.iv,
			timestamp = EXCLUDED.timestamp,
			stored_at = EXCLUDED.stored_at
	`, r.String(), int64(msg.ID), msg.User, msg.UserIV, msg.Content, msg.IV, msg.Timestamp, s.now())
	if err != nil {
		return fmt.Errorf("saving message %d: %w", msg.ID, err)
	}
	return nil
}

// LoadAll retrieves the room's messages ordered by id.
func (s *PostgresStore) LoadAll(ctx context.Context, r room.Room) ([]models.Message, error) {
	defer observe(s.Name(), "load_all", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, room, sender, sender_iv, content, iv, timestamp
		FROM messages
		WHERE room = $1
		ORDER BY id
	`, r.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var id int64
		if err := rows.Scan(
			&id,
			&msg.Room,
			&msg.User,
			&msg.UserIV,
			&msg.Content,
			&msg.IV,
			&msg.Timestamp,
		); err != nil {
			s.logger.Warn().Err(err).Str("room", r.String()).Msg("skipping unreadable row")
			continue
		}
		msg.ID = uint64(id)
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Rooms lists rooms that hold at least one message.
func (s *PostgresStore) Rooms(ctx context.Context) ([]room.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT room FROM messages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return validRooms(names), nil
}

// Records lists the room's message ids with their storage times.
func (s *PostgresStore) Records(ctx context.Context, r room.Room) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stored_at FROM messages WHERE room = $1
	`, r.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id int64
		var storedAt time.Time
		if err := rows.Scan(&id, &storedAt); err != nil {
			return nil, err
		}
		records = append(records, Record{Room: r, ID: uint64(id), ModifiedAt: storedAt})
	}
	return records, rows.Err()
}

// Remove deletes one message.
func (s *PostgresStore) Remove(ctx context.Context, r room.Room, id uint64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE room = $1 AND id = $2
	`, r.String(), int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
