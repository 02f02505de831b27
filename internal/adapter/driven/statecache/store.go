// Package statecache implements the combined check state cache as a bounded
// ristretto tier in front of a persistent badger tier. Both tiers are caches:
// a missing or unreadable entry is a miss, never an error the caller must act on.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CombinedStateStore = (*Store)(nil)

const keyPrefix = "combined/"

// Config configures a Store.
type Config struct {
	// Dir is the badger directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the persistent tier in memory. Used by tests.
	InMemory bool
	// MaxEntries bounds the front tier.
	MaxEntries int64
	// TTL expires entries of the persistent tier. Zero keeps them forever.
	TTL time.Duration
	// GCInterval runs badger value log GC. Zero disables it.
	GCInterval time.Duration
	// Logger receives badger's internal log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultConfig returns the production defaults for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		MaxEntries: 10000,
		TTL:        30 * 24 * time.Hour,
		GCInterval: 10 * time.Minute,
	}
}

// Store implements driven.CombinedStateStore.
type Store struct {
	front *ristretto.Cache[string, model.CombinedCheckState]
	db    *badger.DB
	ttl   time.Duration

	stop chan struct{}
	done chan struct{}
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the persistent tier and builds the front tier.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("statecache: directory is required for a persistent cache")
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("statecache: max entries must be positive, got %d", cfg.MaxEntries)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	front, err := ristretto.NewCache(&ristretto.Config[string, model.CombinedCheckState]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create front cache: %w", err)
	}

	s := &Store{front: front, db: db, ttl: cfg.TTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// Get returns the cached state of key. Undecodable persisted values count as
// a miss.
func (s *Store) Get(_ context.Context, key driven.CombinedStateKey) (model.CombinedCheckState, bool, error) {
	k := key.String()
	if st, ok := s.front.Get(k); ok {
		return st, true, nil
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + k))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read combined state %s: %w", k, err)
	}

	st, ok := model.ParseCombinedCheckState(string(raw))
	if !ok {
		slog.Warn("discarding unreadable combined state", "key", k, "value", string(raw))
		return "", false, nil
	}
	s.front.Set(k, st, 1)
	return st, true, nil
}

// Put writes state through both tiers.
func (s *Store) Put(_ context.Context, key driven.CombinedStateKey, state model.CombinedCheckState) error {
	k := key.String()
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+k), []byte(state))
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		s.front.Del(k)
		return fmt.Errorf("write combined state %s: %w", k, err)
	}
	s.front.Set(k, state, 1)
	return nil
}

// Wait blocks until buffered front tier writes are applied.
func (s *Store) Wait() {
	s.front.Wait()
}

// Close stops GC and closes both tiers.
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
	}
	s.front.Close()
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}
