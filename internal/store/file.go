package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/crypto"
	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/room"
)

const (
	recordSuffix = ".json"
	tmpMarker    = ".tmp-"
)

// FileStore keeps one directory per room and one JSON file per message:
//
//	<root>/<room>/<id>.json
//
// The directory listing is the only index.
type FileStore struct {
	root     string
	logger   zerolog.Logger
	readFile func(name string) ([]byte, error)
}

// NewFileStore creates a file store rooted at root, creating it if needed.
func NewFileStore(root string, logger zerolog.Logger) (*FileStore, error) {
	if root == "" {
		root = "messages"
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", root, err)
	}
	return &FileStore{
		root:     root,
		logger:   logger.With().Str("component", "filestore").Logger(),
		readFile: os.ReadFile,
	}, nil
}

// Name identifies the backend.
func (s *FileStore) Name() string { return "file" }

// Root returns the data directory.
func (s *FileStore) Root() string { return s.root }

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// Ping checks the data directory is still present.
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}

// parseRecordName extracts the id from "<id>.json". Scratch files and
// anything else in the directory are rejected.
func parseRecordName(name string) (uint64, bool) {
	stem, ok := strings.CutSuffix(name, recordSuffix)
	if !ok || stem == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(stem, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// NextID scans the room directory for the highest id.
func (s *FileStore) NextID(ctx context.Context, r room.Room) (uint64, error) {
	defer observe(s.Name(), "next_id", time.Now())

	entries, err := os.ReadDir(r.Dir(s.root))
	if errors.Is(err, fs.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing room %s: %w", r, err)
	}

	var highest uint64
	for _, e := range entries {
		if id, ok := parseRecordName(e.Name()); ok && id > highest {
			highest = id
		}
	}
	if highest == math.MaxUint64 {
		return 0, fmt.Errorf("room %s: %w", r, ErrIDSpaceExhausted)
	}
	return highest + 1, nil
}

// Save writes the record to a scratch file in the room directory and
// renames it over the final name.
func (s *FileStore) Save(ctx context.Context, msg *models.Message) error {
	defer observe(s.Name(), "save", time.Now())

	r, err := roomOf(msg)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.ID, err)
	}

	dir := r.Dir(s.root)
	err = s.publish(dir, room.RecordName(msg.ID), data)
	if errors.Is(err, fs.ErrNotExist) {
		// The sweeper may remove an emptied room directory between our
		// MkdirAll and the write.
		err = s.publish(dir, room.RecordName(msg.ID), data)
	}
	return err
}

func (s *FileStore) publish(dir, name string, data []byte) (err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating room dir %s: %w", dir, err)
	}

	finalPath := filepath.Join(dir, name)
	tmpPath := filepath.Join(dir, "."+name+tmpMarker+crypto.NewULID())

	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing temp record: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp record: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp record: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming record to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// LoadAll reads every record in the room. Files that vanish between the
// listing and the read (the sweeper got there first) and files that fail
// to decode are skipped.
func (s *FileStore) LoadAll(ctx context.Context, r room.Room) ([]models.Message, error) {
	defer observe(s.Name(), "load_all", time.Now())

	dir := r.Dir(s.root)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing room %s: %w", r, err)
	}

	messages := make([]models.Message, 0, len(entries))
	for _, e := range entries {
		if _, ok := parseRecordName(e.Name()); !ok {
			continue
		}

		data, err := s.readFile(filepath.Join(dir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.skip(r, e.Name(), err)
			continue
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.skip(r, e.Name(), err)
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func (s *FileStore) skip(r room.Room, name string, err error) {
	metrics.CorruptRecordsSkipped.WithLabelValues(s.Name()).Inc()
	s.logger.Warn().
		Err(err).
		Str("room", r.String()).
		Str("record", name).
		Msg("skipping unreadable record")
}

// Rooms lists room directories. Entries that are not valid room ids are
// ignored.
func (s *FileStore) Rooms(ctx context.Context) ([]room.Room, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}

	rooms := make([]room.Room, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := room.Validate(e.Name())
		if err != nil {
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms, nil
}

// Records lists the room's records with their file modification times.
func (s *FileStore) Records(ctx context.Context, r room.Room) ([]Record, error) {
	entries, err := os.ReadDir(r.Dir(s.root))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing room %s: %w", r, err)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		id, ok := parseRecordName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return records, fmt.Errorf("stat %s/%s: %w", r, e.Name(), err)
		}
		records = append(records, Record{Room: r, ID: id, ModifiedAt: info.ModTime()})
	}
	return records, nil
}

// Remove deletes a record, then the room directory if it is now empty.
func (s *FileStore) Remove(ctx context.Context, r room.Room, id uint64) error {
	err := os.Remove(r.MessagePath(s.root, id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	// Fails harmlessly while other records remain.
	_ = os.Remove(r.Dir(s.root))
	return nil
}
