package sweeper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/room"
	"github.com/eldtechnologies/cipherroom/internal/store"
)

const (
	roomA = room.Room("aaaaaaaaaaaaaaaa")
	roomB = room.Room("bbbbbbbbbbbbbbbb")
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// fakeStore is an in-memory Expirable with injectable failures.
type fakeStore struct {
	mu         sync.Mutex
	records    map[room.Room][]store.Record
	roomsErr   error
	recordsErr map[room.Room]error
	removeErr  map[uint64]error
	removed    []uint64
	sweeps     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    make(map[room.Room][]store.Record),
		recordsErr: make(map[room.Room]error),
		removeErr:  make(map[uint64]error),
	}
}

func (f *fakeStore) add(r room.Room, id uint64, age time.Duration) {
	f.records[r] = append(f.records[r], store.Record{Room: r, ID: id, ModifiedAt: fixedNow.Add(-age)})
}

func (f *fakeStore) Rooms(ctx context.Context) ([]room.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	if f.roomsErr != nil {
		return nil, f.roomsErr
	}
	rooms := make([]room.Room, 0, len(f.records))
	for r := range f.records {
		rooms = append(rooms, r)
	}
	return rooms, nil
}

func (f *fakeStore) Records(ctx context.Context, r room.Room) ([]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.recordsErr[r]; err != nil {
		return nil, err
	}
	return append([]store.Record(nil), f.records[r]...), nil
}

func (f *fakeStore) Remove(ctx context.Context, r room.Room, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[id]; err != nil {
		return err
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeStore) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	fs := newFakeStore()
	fs.add(roomA, 1, 8*24*time.Hour)
	fs.add(roomA, 2, 6*24*time.Hour)
	fs.add(roomB, 3, 30*24*time.Hour)

	s := New(fs, zerolog.Nop(), Options{Retention: 7 * 24 * time.Hour, Now: clock})
	res := s.Sweep(context.Background())

	if res.Rooms != 2 || res.Scanned != 3 || res.Removed != 2 || res.Failures != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, id := range fs.removed {
		if id == 2 {
			t.Error("record younger than retention was removed")
		}
	}
}

func TestSweepBoundaryIsKept(t *testing.T) {
	fs := newFakeStore()
	fs.add(roomA, 1, 7*24*time.Hour)

	s := New(fs, zerolog.Nop(), Options{Retention: 7 * 24 * time.Hour, Now: clock})
	if res := s.Sweep(context.Background()); res.Removed != 0 {
		t.Errorf("record exactly at retention should be kept, got %+v", res)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	fs := newFakeStore()
	fs.add(roomA, 1, 10*24*time.Hour)
	fs.add(roomA, 2, 10*24*time.Hour)
	fs.add(roomB, 3, 10*24*time.Hour)
	fs.removeErr[1] = errors.New("permission denied")
	fs.removeErr[2] = store.ErrNotFound

	s := New(fs, zerolog.Nop(), Options{Now: clock})
	res := s.Sweep(context.Background())

	if res.Failures != 1 {
		t.Errorf("expected 1 failure, got %+v", res)
	}
	// Record 2 was already gone, which counts as removed.
	if res.Removed != 2 {
		t.Errorf("expected 2 removed, got %+v", res)
	}
}

func TestSweepRoomListingFailure(t *testing.T) {
	fs := newFakeStore()
	fs.add(roomA, 1, 10*24*time.Hour)
	fs.recordsErr[roomA] = errors.New("io error")
	fs.add(roomB, 2, 10*24*time.Hour)

	s := New(fs, zerolog.Nop(), Options{Now: clock})
	res := s.Sweep(context.Background())
	if res.Failures != 1 || res.Removed != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	fs.roomsErr = errors.New("root unreadable")
	res = s.Sweep(context.Background())
	if res.Failures != 1 || res.Rooms != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	fs := newFakeStore()
	fs.roomsErr = errors.New("always failing")

	s := New(fs, zerolog.Nop(), Options{Interval: 10 * time.Millisecond, Now: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fs.sweepCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper stopped ticking after failures, sweeps=%d", fs.sweepCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestSweepFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "messages")
	fst, err := store.NewFileStore(root, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for id := uint64(1); id <= 2; id++ {
		msg := &models.Message{ID: id, Room: roomA.String(), User: "u", UserIV: "i", Content: "c", IV: "v", Timestamp: "t"}
		if err := fst.Save(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	old := fixedNow.Add(-8 * 24 * time.Hour)
	young := fixedNow.Add(-6 * 24 * time.Hour)
	if err := os.Chtimes(roomA.MessagePath(root, 1), old, old); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(roomA.MessagePath(root, 2), young, young); err != nil {
		t.Fatal(err)
	}

	s := New(fst, zerolog.Nop(), Options{Now: clock})
	res := s.Sweep(ctx)
	if res.Removed != 1 || res.Failures != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	msgs, err := fst.LoadAll(ctx, roomA)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != 2 {
		t.Errorf("expected only message 2 to survive, got %+v", msgs)
	}

	// Expiring the last record removes the room directory too.
	if err := os.Chtimes(roomA.MessagePath(root, 2), old, old); err != nil {
		t.Fatal(err)
	}
	s.Sweep(ctx)
	if _, err := os.Stat(roomA.Dir(root)); !os.IsNotExist(err) {
		t.Errorf("expected empty room dir to be removed, stat err=%v", err)
	}
}
