package capture

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/vaibhaw-/dbscope/internal/dbscope/aggregate"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/stackfilter"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func kinds(events []message.Event) []message.Kind {
	out := make([]message.Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind())
	}
	return out
}

func newRecorder(traces bool) (*Recorder, *request.Context) {
	rc := request.New(request.WithStackTraces(traces), request.WithFilter(stackfilter.New()))
	return NewRecorder(rc), rc
}

func TestOpen_Unsupported(t *testing.T) {
	r, _ := newRecorder(false)

	for _, src := range []any{42, nil, (*sql.DB)(nil)} {
		_, err := r.Open(context.Background(), src)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnsupported), "%v", err)

		var ue *UnsupportedError
		require.True(t, errors.As(err, &ue))
		assert.NotEmpty(t, ue.Type)
	}
}

func TestConn_ExecAndQuery(t *testing.T) {
	ctx := context.Background()
	r, rc := newRecorder(false)

	conn, err := r.Open(ctx, openDB(t))
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)")
	require.NoError(t, err)
	res, err := conn.ExecContext(ctx, "INSERT INTO users (email) VALUES (?), (?)", "a@example.org", "b@example.org")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := conn.QueryContext(ctx, "SELECT email FROM users WHERE id > @min", sql.Named("min", 0))
	require.NoError(t, err)
	var emails []string
	for rows.Next() {
		var e string
		require.NoError(t, rows.Scan(&e))
		emails = append(emails, e)
	}
	require.NoError(t, rows.Close())
	require.NoError(t, rows.Close(), "second close publishes nothing")
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, emails)
	require.NoError(t, conn.Close())

	events := rc.Seal()
	assert.Equal(t, []message.Kind{
		message.KindConnectionOpen,
		message.KindCommandStart, message.KindCommandEnd,
		message.KindCommandStart, message.KindCommandEnd,
		message.KindCommandStart, message.KindCommandEnd,
		message.KindConnectionClose,
	}, kinds(events))

	insert := events[3].(message.CommandStart)
	require.Len(t, insert.Parameters, 2)
	assert.Equal(t, "@p1", insert.Parameters[0].Name)
	assert.Equal(t, "a@example.org", insert.Parameters[0].Rendered())
	assert.Equal(t, "@min", events[5].(message.CommandStart).Parameters[0].Name)

	q := aggregate.New().Aggregate(events)
	require.Len(t, q.Connections(), 1)
	c := q.Connections()[0]
	assert.Equal(t, conn.ID(), c.ID)
	require.NotNil(t, c.Duration)
	cmds := c.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, int64(2), *cmds[1].RecordsAffected)
	assert.Equal(t, int64(2), *cmds[2].RecordsAffected, "rows read by the query")
	for _, cmd := range cmds {
		assert.NotNil(t, cmd.Duration)
		assert.False(t, cmd.IsDuplicate)
	}
}

func TestConn_ErrorIsReturnedUnchanged(t *testing.T) {
	ctx := context.Background()
	r, rc := newRecorder(false)
	db := openDB(t)

	conn, err := r.Open(ctx, db)
	require.NoError(t, err)
	defer conn.Close()

	_, execErr := conn.ExecContext(ctx, "INSERT INTO missing VALUES (1)")
	require.Error(t, execErr)
	_, queryErr := conn.QueryContext(ctx, "SELECT * FROM missing")
	require.Error(t, queryErr)

	var errs []error
	for _, e := range rc.Store.All() {
		if ce, ok := e.(message.CommandError); ok {
			errs = append(errs, ce.Err)
		}
	}
	require.Len(t, errs, 2)
	assert.True(t, execErr == errs[0], "exec error must be published as returned")
	assert.True(t, queryErr == errs[1], "query error must be published as returned")
}

func TestConn_Transactions(t *testing.T) {
	ctx := context.Background()
	r, rc := newRecorder(false)

	conn, err := r.Open(ctx, openDB(t))
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "CREATE TABLE t (a INTEGER)")
	require.NoError(t, err)

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Error(t, tx.Rollback(), "rollback after commit")

	tx2, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx2.ExecContext(ctx, "INSERT INTO t VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
	require.NoError(t, conn.Close())

	q := aggregate.New().Aggregate(rc.Seal())
	c := q.Connections()[0]
	require.Len(t, c.Transactions, 2)
	assert.True(t, *c.Transactions[0].Committed)
	assert.False(t, *c.Transactions[1].Committed)
	assert.Equal(t, "Default", c.Transactions[0].IsolationLevel)
	assert.Equal(t, tx.ID(), c.Transactions[0].ID)

	cmds := c.Commands()
	require.Len(t, cmds, 3)
	assert.False(t, cmds[0].InTransaction)
	assert.True(t, cmds[1].InTransaction)
	assert.Same(t, c.Transactions[0], cmds[1].HeadTransaction)
	assert.Same(t, c.Transactions[0], cmds[1].TailTransaction)
	assert.Same(t, c.Transactions[1], cmds[2].TailTransaction)
}

func TestConn_ExecAsync(t *testing.T) {
	ctx := context.Background()
	r, rc := newRecorder(false)

	conn, err := r.Open(ctx, openDB(t))
	require.NoError(t, err)

	res := <-conn.ExecAsync(ctx, "CREATE TABLE t (a INTEGER)")
	require.NoError(t, res.Err)
	require.NoError(t, conn.Close())

	for _, e := range rc.Seal() {
		switch ev := e.(type) {
		case message.CommandStart:
			assert.True(t, ev.IsAsync)
		case message.CommandEnd:
			assert.True(t, ev.IsAsync)
		}
	}
}

func TestConn_ExecAsyncAfterClose(t *testing.T) {
	ctx := context.Background()
	r, rc := newRecorder(false)

	conn, err := r.Open(ctx, openDB(t))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	res, ok := <-conn.ExecAsync(ctx, "SELECT 1")
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, sql.ErrConnDone)
	assert.Nil(t, res.Result)

	assert.Equal(t, []message.Kind{message.KindConnectionOpen, message.KindConnectionClose}, kinds(rc.Seal()))
}

func TestConn_ExecAsyncRacesClose(t *testing.T) {
	ctx := context.Background()
	r, rc := newRecorder(false)

	conn, err := r.Open(ctx, openDB(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan AsyncResult, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- <-conn.ExecAsync(ctx, "SELECT 1")
		}()
	}
	require.NoError(t, conn.Close())
	wg.Wait()
	close(results)

	started := 0
	for res := range results {
		if res.Err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, res.Err, sql.ErrConnDone)
	}

	events := rc.Seal()
	require.NotEmpty(t, events)
	assert.Equal(t, message.KindConnectionClose, events[len(events)-1].Kind(), "close is published after every async command")
	ends := 0
	for _, e := range events {
		if e.Kind() == message.KindCommandEnd {
			ends++
		}
	}
	assert.Equal(t, started, ends)
}

func TestConn_StackTrace(t *testing.T) {
	ctx := context.Background()

	r, rc := newRecorder(true)
	conn, err := r.Open(ctx, openDB(t))
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	var traces []string
	for _, e := range rc.Seal() {
		if st, ok := e.(message.CommandStackTrace); ok {
			traces = append(traces, st.Text)
		}
	}
	require.Len(t, traces, 1)
	first := strings.SplitN(traces[0], "\n", 2)[0]
	assert.Contains(t, first, "TestConn_StackTrace", "innermost frame is the caller of ExecContext")

	r, rc = newRecorder(false)
	conn, err = r.Open(ctx, openDB(t))
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.NotContains(t, kinds(rc.Seal()), message.KindCommandStackTrace)
}

func TestConn_CallerOwnedConnStaysOpen(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	raw, err := db.Conn(ctx)
	require.NoError(t, err)
	defer raw.Close()

	r, _ := newRecorder(false)
	conn, err := r.Open(ctx, raw)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.NoError(t, raw.PingContext(ctx))
}

func TestParameters(t *testing.T) {
	params := Parameters([]any{1, sql.Named("id", 2), sql.Named("@x", []byte{0xAB}), nil})
	require.Len(t, params, 4)
	assert.Equal(t, "@p1", params[0].Name)
	assert.Equal(t, "@id", params[1].Name)
	assert.Equal(t, "@x", params[2].Name)
	assert.Equal(t, "0xAB", params[2].Rendered())
	assert.Equal(t, "@p4", params[3].Name)
	assert.Equal(t, "NULL", params[3].Rendered())
	assert.Nil(t, Parameters(nil))
}
