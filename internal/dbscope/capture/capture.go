// Package capture wraps database/sql handles so every command, transaction
// and connection publishes events to a request context.
//
// Capture never changes the outcome of the wrapped operation: results and
// errors from the driver are returned unchanged.
package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/logger"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/stackfilter"
)

// Querier runs statements. *sql.Conn, *sql.DB and *sql.Tx all satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Backend is one logical database connection.
type Backend interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (TxBackend, error)
	Close() error
}

// TxBackend is an open transaction. *sql.Tx satisfies it.
type TxBackend interface {
	Querier
	Commit() error
	Rollback() error
}

// UnsupportedError is returned by Open for sources it cannot wrap.
type UnsupportedError struct {
	Type string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("capture: unsupported source type %s", e.Type)
}

// Is makes errors.Is(err, errors.ErrUnsupported) hold.
func (e *UnsupportedError) Is(target error) bool {
	return target == errors.ErrUnsupported
}

// sqlConn adapts *sql.Conn to Backend.
type sqlConn struct {
	*sql.Conn
	owned bool
}

func (c *sqlConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (TxBackend, error) {
	tx, err := c.Conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Close returns a connection Open took from a pool; a caller's *sql.Conn is
// left open.
func (c *sqlConn) Close() error {
	if !c.owned {
		return nil
	}
	return c.Conn.Close()
}

// Recorder publishes capture events to one request context.
type Recorder struct {
	rc *request.Context
}

// NewRecorder binds a recorder to rc. A nil rc gets a private context.
func NewRecorder(rc *request.Context) *Recorder {
	if rc == nil {
		rc = request.New()
	}
	return &Recorder{rc: rc}
}

// Context returns the request context events are published to.
func (r *Recorder) Context() *request.Context {
	return r.rc
}

// Open wraps src as a captured connection. src may be a *sql.DB (a dedicated
// connection is taken from its pool and returned on Close), a *sql.Conn, or
// any Backend.
func (r *Recorder) Open(ctx context.Context, src any) (*Conn, error) {
	var be Backend
	switch s := src.(type) {
	case *sql.DB:
		if s == nil {
			return nil, &UnsupportedError{Type: fmt.Sprintf("%T", src)}
		}
		conn, err := s.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("open connection: %w", err)
		}
		be = &sqlConn{Conn: conn, owned: true}
	case *sql.Conn:
		if s == nil {
			return nil, &UnsupportedError{Type: fmt.Sprintf("%T", src)}
		}
		be = &sqlConn{Conn: s}
	case Backend:
		be = s
	default:
		return nil, &UnsupportedError{Type: fmt.Sprintf("%T", src)}
	}

	c := &Conn{r: r, id: uuid.New(), backend: be}
	c.opened = r.rc.Timer.Start()
	r.publish(message.ConnectionOpen{Header: r.header(c.id, uuid.Nil, c.opened)})
	logger.L().Debugw("connection opened",
		"request", r.rc.ID,
		"connection", c.id,
	)
	return c, nil
}

func (r *Recorder) publish(e message.Event) {
	r.rc.Publish(e)
}

func (r *Recorder) header(conn, cmd uuid.UUID, offset time.Duration) message.Header {
	return message.Header{
		ID:           uuid.New(),
		ConnectionID: conn,
		CommandID:    cmd,
		Offset:       offset,
		StartTime:    r.rc.StartTime(offset),
	}
}

// trace captures and filters the caller's stack. skip counts frames above
// the caller of trace. A panic while filtering yields an empty trace.
func (r *Recorder) trace(skip int) (text string) {
	if !r.rc.StackTraces || r.rc.Filter == nil {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Warnw("stack trace filtering failed", "error", rec)
			text = ""
		}
	}()
	return r.rc.Filter.GetFilteredStackTrace(stackfilter.Capture(skip + 1))
}

// Parameters snapshots statement arguments. sql.NamedArg keeps its name with
// an @ prefix; positional arguments are named @p1, @p2, ...
func Parameters(args []any) []message.Parameter {
	if len(args) == 0 {
		return nil
	}
	params := make([]message.Parameter, 0, len(args))
	for i, a := range args {
		name := fmt.Sprintf("@p%d", i+1)
		value := a
		if named, ok := a.(sql.NamedArg); ok {
			value = named.Value
			if named.Name != "" {
				name = named.Name
				if !strings.HasPrefix(name, "@") {
					name = "@" + name
				}
			}
		}
		params = append(params, message.NewParameter(name, value))
	}
	return params
}
