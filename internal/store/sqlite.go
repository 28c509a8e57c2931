package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

// SQLiteStore keeps messages in a single SQLite table keyed by (room, id).
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/cipherroom.db"
func NewSQLiteStore(ctx context.Context, dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/cipherroom.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "sqlitestore").Logger(),
		now:    time.Now,
	}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		room TEXT NOT NULL,
		id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		sender_iv TEXT NOT NULL,
		content TEXT NOT NULL,
		iv TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (room, id)
	);

	CREATE TABLE IF NOT EXISTS room_seq (
		room TEXT PRIMARY KEY,
		last_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_stored_at ON messages(stored_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Name identifies the backend.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// NextID returns MAX(id)+1 for the room.
func (s *SQLiteStore) NextID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "next_id", time.Now())

	var next uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE room = ?
	`, r.String()).Scan(&next)
	return next, err
}

// AllocateID bumps the room's sequence in one statement, seeding it from
// the stored maximum the first time a room is seen. Ids are never reused,
// even after every message in the room has expired.
func (s *SQLiteStore) AllocateID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "allocate_id", time.Now())

	var id uint64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO room_seq (room, last_id)
		VALUES (?, (SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE room = ?))
		ON CONFLICT (room) DO UPDATE SET last_id = last_id + 1
		RETURNING last_id
	`, r.String(), r.String()).Scan(&id)
	return id, err
}

// Save upserts the message.
func (s *SQLiteStore) Save(ctx context.Context, msg *models.Message) error {
	defer observe(s.Name(), "save", time.Now())

	r, err := roomOf(msg)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (room, id, sender, sender_iv, content, iv, timestamp, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room, id) DO UPDATE SET
			sender = excluded.sender,
			sender_iv = excluded.sender_iv,
			content = excluded.content,
			iv = excluded.iv,
			timestamp = excluded.timestamp,
			stored_at = excluded.stored_at
	`, r.String(), msg.ID, msg.User, msg.UserIV, msg.Content, msg.IV, msg.Timestamp, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving message %d: %w", msg.ID, err)
	}
	return nil
}

// LoadAll retrieves the room's messages ordered by id.
func (s *SQLiteStore) LoadAll(ctx context.Context, r room.Room) ([]models.Message, error) {
	defer observe(s.Name(), "load_all", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room, sender, sender_iv, content, iv, timestamp
		FROM messages
		WHERE room = ?
		ORDER BY id
	`, r.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
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
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Rooms lists rooms that hold at least one message.
func (s *SQLiteStore) Rooms(ctx context.Context) ([]room.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT room FROM messages`)
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
func (s *SQLiteStore) Records(ctx context.Context, r room.Room) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stored_at FROM messages WHERE room = ?
	`, r.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id uint64
		var storedAt int64
		if err := rows.Scan(&id, &storedAt); err != nil {
			return nil, err
		}
		records = append(records, Record{Room: r, ID: id, ModifiedAt: time.UnixMilli(storedAt)})
	}
	return records, rows.Err()
}

// Remove deletes one message.
func (s *SQLiteStore) Remove(ctx context.Context, r room.Room, id uint64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE room = ? AND id = ?
	`, r.String(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func validRooms(names []string) []room.Room {
	rooms := make([]room.Room, 0, len(names))
	for _, name := range names {
		if r, err := room.Validate(name); err == nil {
			rooms = append(rooms, r)
		}
	}
	return rooms
}
