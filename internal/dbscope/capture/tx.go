package capture

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// Tx is a captured transaction. Commands run through it are flagged as
// running inside a transaction.
type Tx struct {
	c      *Conn
	id     uuid.UUID
	tx     TxBackend
	offset time.Duration

	mu    sync.Mutex
	ended bool
}

// ID is the transaction identifier carried by its start and end events.
func (t *Tx) ID() uuid.UUID {
	return t.id
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.c.exec(ctx, command{q: t.tx, query: query, args: args, trace: t.c.r.trace(1), inTx: true})
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	return t.c.query(ctx, command{q: t.tx, query: query, args: args, trace: t.c.r.trace(1), inTx: true})
}

// Commit commits and publishes the end event; a failed commit is recorded as
// not committed.
func (t *Tx) Commit() error {
	err := t.tx.Commit()
	t.finish(err == nil, err)
	return err
}

// Rollback rolls back and publishes the end event. Rolling back a finished
// transaction publishes nothing.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	t.finish(false, err)
	return err
}

func (t *Tx) finish(committed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	if errors.Is(err, sql.ErrTxDone) {
		return
	}
	t.ended = true

	r := t.c.r
	h := r.header(t.c.id, uuid.Nil, r.rc.Timer.Start())
	h.TransactionID = t.id
	h.Duration = r.rc.Timer.Stop(t.offset)
	r.publish(message.TransactionEnd{Header: h, Committed: committed})
}
