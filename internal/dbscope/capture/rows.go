package capture

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Rows wraps *sql.Rows. Each completed result set publishes a CommandEnd
// carrying the number of rows read from it; an iteration error publishes a
// CommandError instead.
type Rows struct {
	*sql.Rows

	c      *Conn
	id     uuid.UUID
	offset time.Duration
	async  bool

	mu      sync.Mutex
	read    int64
	pending bool
	failed  bool
}

func (r *Rows) Next() bool {
	ok := r.Rows.Next()
	if ok {
		r.mu.Lock()
		r.read++
		r.mu.Unlock()
	}
	return ok
}

// NextResultSet finishes the current result set before advancing.
func (r *Rows) NextResultSet() bool {
	r.finish()
	ok := r.Rows.NextResultSet()
	if ok {
		r.mu.Lock()
		if !r.failed {
			r.pending = true
			r.read = 0
		}
		r.mu.Unlock()
	}
	return ok
}

// Close closes the rows and publishes the end of the current result set.
func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.finish()
	return err
}

func (r *Rows) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return
	}
	r.pending = false

	if err := r.Rows.Err(); err != nil {
		r.failed = true
		r.c.fail(r.id, r.offset, r.async, err)
		return
	}
	n := r.read
	r.c.end(r.id, r.offset, r.async, &n)
}
