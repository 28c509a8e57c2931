// Package messages accepts new messages into rooms and serves them back.
package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/config"
	"github.com/eldtechnologies/cipherroom/internal/crypto"
	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/models"
	"github.com/eldtechnologies/cipherroom/internal/query"
	"github.com/eldtechnologies/cipherroom/internal/room"
	"github.com/eldtechnologies/cipherroom/internal/store"
)

// timestampLayout is RFC 3339 with fixed-width fractional seconds, so
// stored timestamps also sort correctly as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrPayloadRejected is returned when a field exceeds its configured
	// maximum length.
	ErrPayloadRejected = errors.New("payload too large")

	// ErrMalformedCiphertext is returned in strict mode for IVs or
	// ciphertexts that are not GCM-shaped hex.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// Publisher receives every message after it has been stored.
type Publisher interface {
	Publish(msg models.Message)
}

// Store is what the service needs from a backend.
type Store interface {
	store.MessageStore
	Name() string
}

// Service is the write and read path for room messages.
type Service struct {
	store      Store
	limits     config.Limits
	strictHex  bool
	publishers []Publisher
	logger     zerolog.Logger
	locks      *roomLocks
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher adds a receiver for stored messages. May be given more
// than once.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p) }
}

// WithStrictHex requires hex IVs and GCM-sized hex ciphertexts.
func WithStrictHex(strict bool) Option {
	return func(s *Service) { s.strictHex = strict }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over st bounded by limits.
func NewService(st Store, limits config.Limits, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		limits: limits,
		logger: logger.With().Str("component", "messages").Logger(),
		locks:  newRoomLocks(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new message, assigning its id and
// timestamp. The room is validated before any storage access.
func (s *Service) Create(ctx context.Context, roomID string, in models.NewMessage) (*models.Message, error) {
	r, err := room.Validate(roomID)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("room").Inc()
		return nil, err
	}
	if err := s.checkBounds(in); err != nil {
		metrics.MessagesRejected.WithLabelValues("too_large").Inc()
		return nil, err
	}
	if s.strictHex {
		if err := checkCiphertext(in); err != nil {
			metrics.MessagesRejected.WithLabelValues("malformed").Inc()
			return nil, err
		}
	}

	msg := &models.Message{
		Room:    r.String(),
		User:    in.User,
		UserIV:  in.UserIV,
		Content: in.Content,
		IV:      in.IV,
	}

	if err := s.assignAndSave(ctx, r, msg); err != nil {
		metrics.SaveFailures.WithLabelValues(s.store.Name()).Inc()
		s.logger.Error().
			Err(err).
			Str("room", r.String()).
			Uint64("id", msg.ID).
			Msg("failed to store message")
		return nil, err
	}

	metrics.MessagesCreated.WithLabelValues(s.store.Name()).Inc()
	for _, p := range s.publishers {
		p.Publish(*msg)
	}
	return msg, nil
}

// assignAndSave allocates the id, stamps the message and stores it. With
// an atomic allocator the id is unique without coordination; otherwise
// the room lock is held across NextID and Save so that two writers in
// this process can never compute the same id.
func (s *Service) assignAndSave(ctx context.Context, r room.Room, msg *models.Message) error {
	if alloc, ok := s.store.(store.IDAllocator); ok {
		id, err := alloc.AllocateID(ctx, r)
		if err != nil {
			return fmt.Errorf("allocating id: %w", err)
		}
		msg.ID = id
		msg.Timestamp = s.timestamp()
		return s.save(ctx, msg)
	}

	unlock := s.locks.lock(r)
	defer unlock()

	id, err := s.store.NextID(ctx, r)
	if err != nil {
		return fmt.Errorf("computing next id: %w", err)
	}
	msg.ID = id
	msg.Timestamp = s.timestamp()
	return s.save(ctx, msg)
}

func (s *Service) save(ctx context.Context, msg *models.Message) error {
	if err := s.store.Save(ctx, msg); err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

func (s *Service) checkBounds(in models.NewMessage) error {
	switch {
	case len(in.User) > s.limits.MaxUserLen:
		return fmt.Errorf("%w: user exceeds %d bytes", ErrPayloadRejected, s.limits.MaxUserLen)
	case len(in.UserIV) > s.limits.MaxIVLen:
		return fmt.Errorf("%w: user_iv exceeds %d bytes", ErrPayloadRejected, s.limits.MaxIVLen)
	case len(in.IV) > s.limits.MaxIVLen:
		return fmt.Errorf("%w: iv exceeds %d bytes", ErrPayloadRejected, s.limits.MaxIVLen)
	case len(in.Content) > s.limits.MaxContentLen:
		return fmt.Errorf("%w: content exceeds %d bytes", ErrPayloadRejected, s.limits.MaxContentLen)
	}
	return nil
}

func checkCiphertext(in models.NewMessage) error {
	switch {
	case !crypto.ValidIV(in.UserIV):
		return fmt.Errorf("%w: user_iv", ErrMalformedCiphertext)
	case !crypto.ValidIV(in.IV):
		return fmt.Errorf("%w: iv", ErrMalformedCiphertext)
	case !crypto.ValidCiphertext(in.User):
		return fmt.Errorf("%w: user", ErrMalformedCiphertext)
	case !crypto.ValidCiphertext(in.Content):
		return fmt.Errorf("%w: content", ErrMalformedCiphertext)
	}
	return nil
}

// List loads the room and applies the query. p may be nil.
func (s *Service) List(ctx context.Context, roomID string, p *query.Params) ([]models.Message, error) {
	r, err := room.Validate(roomID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.LoadAll(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("loading room %s: %w", r, err)
	}

	if p != nil && p.SinceTS != nil && !p.SinceTSValid() {
		s.logger.Debug().
			Str("room", r.String()).
			Str("since_ts", *p.SinceTS).
			Msg("ignoring unparsable since_ts")
	}
	if p != nil && len(p.Ignored) > 0 {
		s.logger.Debug().
			Str("room", r.String()).
			Strs("params", p.Ignored).
			Msg("ignoring malformed query parameters")
	}

	return query.Apply(messages, p), nil
}

// Ping checks the backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Backend names the storage backend.
func (s *Service) Backend() string {
	return s.store.Name()
}
