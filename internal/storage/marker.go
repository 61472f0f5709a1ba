package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultStaleLockAfter is how old a marker lock may get before another
// invocation assumes its holder died and breaks it. Breaking renames the lock
// aside and checks it is still the file judged stale, so two invocations that
// both saw the same stale lock cannot remove each other's fresh one. A
// narrower window remains when a third lock appears during that check; the
// reporter then emits at most one duplicate report, never a lost one.
const DefaultStaleLockAfter = 10 * time.Minute

// Marker is the persisted "last processed period" for one channel.
//
// Claim treats read-check-write as one step by holding an exclusive lock file
// for its duration. The marker itself is replaced via temp file, fsync and
// rename, so it is never observed half-written.
type Marker struct {
	path           string
	staleLockAfter time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewMarker returns a marker stored at path.
func NewMarker(path string, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Marker{
		path:           path,
		staleLockAfter: DefaultStaleLockAfter,
		logger:         logger,
		now:            time.Now,
	}
}

// WithStaleLockAfter overrides the stale lock threshold.
func (m *Marker) WithStaleLockAfter(d time.Duration) *Marker {
	m.staleLockAfter = d
	return m
}

// Path returns the marker file path.
func (m *Marker) Path() string {
	return m.path
}

func (m *Marker) lockPath() string {
	return m.path + ".lock"
}

// Current returns the stored period, or "" when no marker exists yet.
func (m *Marker) Current() (string, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", ioErr("read marker", m.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Claim advances the marker to period at most once.
//
// If the stored period already equals period, Claim returns false without
// calling fn. Otherwise fn runs with the previously stored period while the
// lock is held, and the marker is written only if fn succeeds. When another
// live invocation holds the lock, Claim returns false: that invocation owns
// the transition.
func (m *Marker) Claim(period string, fn func(previous string) error) (bool, error) {
	if period == "" {
		return false, fmt.Errorf("storage: claim: empty period")
	}

	release, ok, err := m.lock()
	if err != nil {
		return false, err
	}
	if !ok {
		m.logger.Info("storage: marker locked by another invocation, skipping", "path", m.path, "period", period)
		return false, nil
	}
	defer release()

	previous, err := m.Current()
	if err != nil {
		return false, err
	}
	if previous == period {
		return false, nil
	}

	if fn != nil {
		if err := fn(previous); err != nil {
			return false, err
		}
	}

	if err := m.write(period); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Marker) lock() (func(), bool, error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, false, ioErr("create directory for", m.path, err)
	}
	lockPath := m.lockPath()

	// Two attempts: the second follows breaking a stale lock.
	for range 2 {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // path derived from marker path
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() {
				if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
					m.logger.Warn("storage: release marker lock failed", "path", lockPath, "error", err)
				}
			}, true, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, false, ioErr("create lock", lockPath, err)
		}

		info, statErr := os.Stat(lockPath)
		if errors.Is(statErr, os.ErrNotExist) {
			continue // released between our open and stat
		}
		if statErr != nil {
			return nil, false, ioErr("stat lock", lockPath, statErr)
		}
		age := m.now().Sub(info.ModTime())
		if age < m.staleLockAfter {
			return nil, false, nil
		}
		m.logger.Warn("storage: breaking stale marker lock", "path", lockPath, "age", age.String())
		broken, err := m.breakStale(lockPath, info)
		if err != nil {
			return nil, false, err
		}
		if !broken {
			return nil, false, nil
		}
	}
	return nil, false, nil
}

// breakStale removes the lock described by stale. It reports false when the
// file at lockPath turned out to be a fresh lock taken by another invocation;
// that lock is put back untouched.
func (m *Marker) breakStale(lockPath string, stale os.FileInfo) (bool, error) {
	aside := fmt.Sprintf("%s.stale-%d-%d", lockPath, os.Getpid(), m.now().UnixNano())
	if err := os.Rename(lockPath, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil // already broken; retry the create
		}
		return false, ioErr("move stale lock", lockPath, err)
	}

	moved, err := os.Stat(aside)
	if err == nil && (!os.SameFile(stale, moved) || !moved.ModTime().Equal(stale.ModTime())) {
		if linkErr := os.Link(aside, lockPath); linkErr != nil {
			m.logger.Warn("storage: restore marker lock failed", "path", lockPath, "error", linkErr)
		}
		_ = os.Remove(aside)
		return false, nil
	}
	if err := os.Remove(aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, ioErr("remove stale lock", aside, err)
	}
	return true, nil
}

func (m *Marker) write(period string) error {
	if err := WriteFileAtomic(m.path, []byte(period+"\n"), 0o644); err != nil {
		return ioErr("write marker", m.path, err)
	}
	return nil
}
