package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/querydesk/querydesk/internal/observability"
)

var ErrSourceUnavailable = errors.New("schema source unavailable")

// Source fetches the live catalog from the backing database.
type Source interface {
	FetchColumns(ctx context.Context) ([]Column, error)
}

// Cache persists the last good snapshot so a restart can serve queries before
// the first refresh completes.
type Cache interface {
	Load(ctx context.Context) ([]Column, time.Time, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

type Option func(*Store)

func WithCache(cache Cache) Option {
	return func(s *Store) {
		if cache != nil {
			s.caches = append(s.caches, cache)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFetchTimeout bounds one shared upstream fetch. Callers that give up
// earlier do not cancel it for the others.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.fetchTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

const defaultFetchTimeout = 30 * time.Second

type Store struct {
	source       Source
	caches       []Cache
	logger       *slog.Logger
	now          func() time.Time
	fetchTimeout time.Duration
	current      atomic.Pointer[Snapshot]
	group        singleflight.Group
}

func NewStore(source Source, opts ...Option) *Store {
	s := &Store{
		source:       source,
		logger:       observability.DiscardLogger(),
		now:          func() time.Time { return time.Now().UTC() },
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Current() *Snapshot {
	if snapshot := s.current.Load(); snapshot != nil {
		return snapshot
	}
	return Uninitialized
}

func (s *Store) IsStale(maxAge time.Duration) bool {
	snapshot := s.Current()
	if !snapshot.Initialized() {
		return true
	}
	return s.now().Sub(snapshot.PublishedAt()) > maxAge
}

// Refresh fetches the catalog and publishes it. Concurrent callers share one
// upstream fetch, which is detached from any single caller's cancellation. On
// failure the active snapshot is left in place.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	results := s.group.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.refresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("schema refresh abandoned: %w", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Snapshot), nil
	}
}

func (s *Store) refresh(ctx context.Context) (*Snapshot, error) {
	if s.source == nil {
		err := fmt.Errorf("%w: no source configured", ErrSourceUnavailable)
		observability.ObserveSchemaRefresh(err, 0, time.Time{})
		return nil, err
	}
	columns, err := s.source.FetchColumns(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		observability.ObserveSchemaRefresh(err, 0, time.Time{})
		s.logger.Error("schema refresh failed", "error", err, "retained_columns", s.Current().Len())
		return nil, err
	}
	snapshot, err := NewSnapshot(columns, s.now())
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		observability.ObserveSchemaRefresh(err, 0, time.Time{})
		s.logger.Error("schema refresh rejected", "error", err)
		return nil, err
	}

	s.current.Store(snapshot)
	observability.ObserveSchemaRefresh(nil, snapshot.Len(), snapshot.PublishedAt())
	s.logger.Info("schema snapshot published", "columns", snapshot.Len(), "tables", len(snapshot.Tables()))

	for _, cache := range s.caches {
		if err := cache.Save(ctx, snapshot); err != nil {
			s.logger.Warn("schema cache write failed", "error", err)
		}
	}
	return snapshot, nil
}

// WarmStart publishes the first readable cached snapshot when nothing has been
// published yet. It reports whether a snapshot was loaded.
func (s *Store) WarmStart(ctx context.Context) bool {
	if s.Current().Initialized() {
		return false
	}
	for _, cache := range s.caches {
		columns, savedAt, err := cache.Load(ctx)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				s.logger.Warn("schema cache read failed", "error", err)
			}
			continue
		}
		snapshot, err := NewSnapshot(columns, savedAt)
		if err != nil {
			s.logger.Warn("schema cache rejected", "error", err)
			continue
		}
		if s.current.CompareAndSwap(nil, snapshot) {
			observability.SetSchemaSnapshot(snapshot.Len(), snapshot.PublishedAt())
			s.logger.Info("schema snapshot loaded from cache", "columns", snapshot.Len(), "saved_at", savedAt)
			return true
		}
		return false
	}
	return false
}

// Run refreshes the snapshot whenever it is older than ttl, checking every
// interval, until ctx is cancelled.
func (s *Store) Run(ctx context.Context, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.refreshIfStale(ctx, ttl)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshIfStale(ctx, ttl)
		}
	}
}

func (s *Store) refreshIfStale(ctx context.Context, ttl time.Duration) {
	if !s.IsStale(ttl) {
		return
	}
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("scheduled schema refresh failed", "error", err)
	}
}
