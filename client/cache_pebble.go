package client

import (
	"os"

	pebble "github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"zonemarket/internal/logger"
)

// pebbleLogger sends pebble's own log lines to the process logger. Routine
// messages (WAL replay, compactions) go to debug.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	logger.Debugf("[pebble] "+format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	logger.Errorf("[pebble] ❌ "+format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	logger.Log.Fatalf("[pebble] "+format, args...)
}

// PebbleCache persists client state in a pebble database directory.
type PebbleCache struct {
	db *pebble.DB
}

// OpenPebbleCache opens or creates the cache in dir.
func OpenPebbleCache(dir string) (*PebbleCache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "cache.MkdirAll")
	}
	db, err := pebble.Open(dir, &pebble.Options{Logger: pebbleLogger{}})
	if err != nil {
		return nil, errors.Wrap(err, "cache.Open")
	}
	return &PebbleCache{db: db}, nil
}

// Close releases the pebble database.
func (c *PebbleCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns a copy of the stored value.
func (c *PebbleCache) Get(key string) ([]byte, bool, error) {
	v, closer, err := c.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "cache.Get")
	}
	defer closer.Close()
	// pebble の値は closer を閉じると無効になる
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set writes value durably.
func (c *PebbleCache) Set(key string, value []byte) error {
	return errors.Wrap(c.db.Set([]byte(key), value, pebble.Sync), "cache.Set")
}

// Invalidate deletes key.
func (c *PebbleCache) Invalidate(key string) error {
	return errors.Wrap(c.db.Delete([]byte(key), pebble.Sync), "cache.Invalidate")
}
