package database

import (
	"sync/atomic"

	"gorm.io/gorm"
)

// Handle wraps a gorm.DB with an explicit closed flag. Container tasks poll
// IsClosed at their suspension points so a daemon shutting down its storage
// reads as "exit quietly" rather than as a cascade of repository errors.
type Handle struct {
	db     *gorm.DB
	closed atomic.Bool
}

func NewHandle(db *gorm.DB) *Handle {
	return &Handle{db: db}
}

// DB returns the underlying connection for repository construction.
func (h *Handle) DB() *gorm.DB {
	return h.db
}

// IsClosed reports whether Close has been called. It does not probe the
// connection: the flag flips before the pool is torn down, so tasks observe
// shutdown-in-progress ahead of their next database call failing.
func (h *Handle) IsClosed() bool {
	return h.closed.Load()
}

// Close marks the handle closed, then closes the underlying pool. Safe to
// call more than once.
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return Close(h.db)
}
