package capture

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// Conn is a captured connection. It is safe for concurrent use to the extent
// the underlying Backend is.
type Conn struct {
	r       *Recorder
	id      uuid.UUID
	backend Backend
	opened  time.Duration

	// mu orders async.Add against Close's async.Wait.
	mu        sync.Mutex
	closed    bool
	async     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// ID is the connection identifier carried by every event of this connection.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// command describes one statement about to run.
type command struct {
	q     Querier
	query string
	args  []any
	trace string
	async bool
	inTx  bool
}

func (c *Conn) start(cmd command) (uuid.UUID, time.Duration) {
	id := uuid.New()
	offset := c.r.rc.Timer.Start()
	c.r.publish(message.CommandStart{
		Header:        c.r.header(c.id, id, offset),
		Text:          cmd.query,
		Parameters:    Parameters(cmd.args),
		IsAsync:       cmd.async,
		InTransaction: cmd.inTx,
	})
	if cmd.trace != "" {
		c.r.publish(message.CommandStackTrace{Header: c.r.header(c.id, id, offset), Text: cmd.trace})
	}
	return id, offset
}

func (c *Conn) fail(id uuid.UUID, offset time.Duration, async bool, err error) {
	h := c.r.header(c.id, id, offset)
	h.Duration = c.r.rc.Timer.Stop(offset)
	c.r.publish(message.CommandError{Header: h, Err: err, IsAsync: async})
}

func (c *Conn) end(id uuid.UUID, offset time.Duration, async bool, records *int64) {
	h := c.r.header(c.id, id, offset)
	h.Duration = c.r.rc.Timer.Stop(offset)
	c.r.publish(message.CommandEnd{Header: h, RecordsAffected: records, IsAsync: async})
}

func (c *Conn) exec(ctx context.Context, cmd command) (sql.Result, error) {
	id, offset := c.start(cmd)

	res, err := cmd.q.ExecContext(ctx, cmd.query, cmd.args...)
	if err != nil {
		c.fail(id, offset, cmd.async, err)
		return res, err
	}

	var records *int64
	if n, raErr := res.RowsAffected(); raErr == nil {
		records = &n
	}
	c.end(id, offset, cmd.async, records)
	return res, nil
}

func (c *Conn) query(ctx context.Context, cmd command) (*Rows, error) {
	id, offset := c.start(cmd)

	rows, err := cmd.q.QueryContext(ctx, cmd.query, cmd.args...)
	if err != nil {
		c.fail(id, offset, cmd.async, err)
		return nil, err
	}
	return &Rows{Rows: rows, c: c, id: id, offset: offset, async: cmd.async, pending: true}, nil
}

// ExecContext runs a statement that returns no rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.exec(ctx, command{q: c.backend, query: query, args: args, trace: c.r.trace(1)})
}

// QueryContext runs a statement that returns rows. The command ends when the
// returned Rows is closed.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	return c.query(ctx, command{q: c.backend, query: query, args: args, trace: c.r.trace(1)})
}

// AsyncResult is delivered once by ExecAsync.
type AsyncResult struct {
	Result sql.Result
	Err    error
}

// ExecAsync runs a statement on its own goroutine. The stack trace is taken
// on the calling goroutine. Close waits for outstanding async commands; once
// Close has started the result is sql.ErrConnDone and nothing is published.
func (c *Conn) ExecAsync(ctx context.Context, query string, args ...any) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch <- AsyncResult{Err: sql.ErrConnDone}
		close(ch)
		return ch
	}
	c.async.Add(1)
	c.mu.Unlock()

	cmd := command{q: c.backend, query: query, args: args, trace: c.r.trace(1), async: true}
	go func() {
		defer c.async.Done()
		defer close(ch)
		res, err := c.exec(ctx, cmd)
		ch <- AsyncResult{Result: res, Err: err}
	}()
	return ch
}

// BeginTx starts a transaction and publishes its start event.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	be, err := c.backend.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}

	tx := &Tx{c: c, id: uuid.New(), tx: be}
	tx.offset = c.r.rc.Timer.Start()
	h := c.r.header(c.id, uuid.Nil, tx.offset)
	h.TransactionID = tx.id
	c.r.publish(message.TransactionStart{Header: h, IsolationLevel: isolationLevel(opts)})
	return tx, nil
}

// Close waits for async commands, closes the backend and publishes the
// connection's open-to-close span. Only the first call has an effect.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.async.Wait()
		c.closeErr = c.backend.Close()

		h := c.r.header(c.id, uuid.Nil, c.r.rc.Timer.Start())
		h.Duration = c.r.rc.Timer.Stop(c.opened)
		c.r.publish(message.ConnectionClose{Header: h})
	})
	return c.closeErr
}

func isolationLevel(opts *sql.TxOptions) string {
	if opts == nil {
		return sql.LevelDefault.String()
	}
	return opts.Isolation.String()
}
