// Package sweeper deletes stored messages older than the retention window.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/crypto"
	"github.com/eldtechnologies/cipherroom/internal/metrics"
	"github.com/eldtechnologies/cipherroom/internal/store"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultRetention = 7 * 24 * time.Hour
	DefaultInterval  = time.Hour
)

// Options configure a Sweeper.
type Options struct {
	Retention time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

// Result summarises one sweep.
type Result struct {
	Rooms    int
	Scanned  int
	Removed  int
	Failures int
}

// Sweeper periodically scans every room and removes expired records. It
// keeps no state between ticks.
type Sweeper struct {
	store     store.Expirable
	logger    zerolog.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// New creates a Sweeper over st.
func New(st store.Expirable, logger zerolog.Logger, opts Options) *Sweeper {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		store:     st,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		retention: opts.Retention,
		interval:  opts.Interval,
		now:       opts.Now,
	}
}

// Run sweeps immediately and then once per interval until ctx is
// cancelled. A failing sweep never stops the loop.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().
		Dur("retention", s.retention).
		Dur("interval", s.interval).
		Msg("expiration sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiration sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep performs one full scan. Enumeration and removal failures are
// logged and counted; the scan moves on to the next room or record.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	start := time.Now()
	runID := crypto.NewUUIDv7().String()
	logger := s.logger.With().Str("run_id", runID).Logger()

	var res Result
	defer func() {
		metrics.SweepsTotal.Inc()
		metrics.SweepDuration.Set(time.Since(start).Seconds())

		event := logger.Info()
		if res.Removed == 0 && res.Failures == 0 {
			event = logger.Debug()
		}
		event.
			Int("rooms", res.Rooms).
			Int("scanned", res.Scanned).
			Int("removed", res.Removed).
			Int("failures", res.Failures).
			Dur("duration", time.Since(start)).
			Msg("sweep finished")
	}()

	rooms, err := s.store.Rooms(ctx)
	if err != nil {
		s.fail(logger, &res, err, "listing rooms")
		return res
	}
	res.Rooms = len(rooms)

	cutoff := s.now().Add(-s.retention)
	for _, r := range rooms {
		if ctx.Err() != nil {
			return res
		}

		records, err := s.store.Records(ctx, r)
		if err != nil {
			s.fail(logger.With().Str("room", r.String()).Logger(), &res, err, "listing records")
			// Records may still hold a partial listing.
		}

		for _, rec := range records {
			res.Scanned++
			if !rec.ModifiedAt.Before(cutoff) {
				continue
			}
			if ctx.Err() != nil {
				return res
			}

			err := s.store.Remove(ctx, r, rec.ID)
			switch {
			case err == nil, errors.Is(err, store.ErrNotFound):
				res.Removed++
				metrics.RecordsExpired.Inc()
				logger.Debug().
					Str("room", r.String()).
					Uint64("id", rec.ID).
					Time("modified_at", rec.ModifiedAt).
					Msg("removed expired message")
			default:
				s.fail(logger.With().Str("room", r.String()).Uint64("id", rec.ID).Logger(), &res, err, "removing record")
			}
		}
	}
	return res
}

func (s *Sweeper) fail(logger zerolog.Logger, res *Result, err error, what string) {
	res.Failures++
	metrics.SweepFailures.Inc()
	logger.Error().Err(err).Msg("sweep failed " + what)
}
