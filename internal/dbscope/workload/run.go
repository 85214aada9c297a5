package workload

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vaibhaw-/dbscope/internal/dbscope/capture"
	"github.com/vaibhaw-/dbscope/internal/dbscope/logger"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/request"
	"github.com/vaibhaw-/dbscope/internal/dbscope/sanitize"
)

// executor is satisfied by both *capture.Conn and *capture.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*capture.Rows, error)
}

// Run replays w against its database through rc and returns the sealed
// event log. A nil rc gets a fresh context. Statement failures are part of
// the recorded telemetry and do not fail the run; connection and template
// errors do, after every connection has finished.
func Run(ctx context.Context, w *Workload, rc *request.Context) ([]message.Event, error) {
	if rc == nil {
		rc = request.New()
	}
	log := logger.Named("workload")

	db, err := sql.Open(w.Driver, w.DataSource())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.Driver, err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", w.Driver, err)
	}
	for _, stmt := range w.Setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("setup statement %q: %w", stmt, err)
		}
	}

	log.Infow("starting workload",
		"name", w.Name,
		"driver", w.Driver,
		"connections", w.connections(),
		"statements", len(w.Statements),
		"seed", w.Seed,
	)

	rec := capture.NewRecorder(rc)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		stats    = map[string]int{"ok": 0, "errors": 0}
		firstErr error
	)
	for i := 0; i < w.connections(); i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wk := &worker{id: id, w: w, faker: newFaker(w.Seed, id), log: log}
			err := wk.run(ctx, rec, db)

			mu.Lock()
			defer mu.Unlock()
			stats["ok"] += wk.ok
			stats["errors"] += wk.failed
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(i)
	}
	wg.Wait()

	events := rc.Seal()
	log.Infow("workload complete",
		"name", w.Name,
		"ok", stats["ok"],
		"errors", stats["errors"],
		"events", len(events),
	)
	return events, firstErr
}

type worker struct {
	id    int
	w     *Workload
	faker *gofakeit.Faker
	log   *zap.SugaredLogger

	ok     int
	failed int
}

func (wk *worker) run(ctx context.Context, rec *capture.Recorder, db *sql.DB) error {
	conn, err := rec.Open(ctx, db)
	if err != nil {
		return fmt.Errorf("connection %d: %w", wk.id, err)
	}
	defer conn.Close()
	wk.log.Debugw("connection opened", "worker", wk.id, "connection", conn.ID())

	var (
		tx      *capture.Tx
		mode    string
		pending []<-chan capture.AsyncResult
	)
	endTx := func() {
		if tx == nil {
			return
		}
		var err error
		if mode == "commit" {
			err = tx.Commit()
		} else {
			err = tx.Rollback()
		}
		wk.result("end transaction", err)
		tx, mode = nil, ""
	}
	defer endTx()

	for _, st := range wk.w.Statements {
		if tx != nil && st.Transaction != mode {
			endTx()
		}
		if st.Transaction != "" && tx == nil {
			tx, err = conn.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("connection %d: begin transaction: %w", wk.id, err)
			}
			mode = st.Transaction
		}

		for r := 0; r < st.times(); r++ {
			args, err := expand(wk.faker, st.Args)
			if err != nil {
				return fmt.Errorf("connection %d: %w", wk.id, err)
			}
			switch {
			case tx != nil:
				wk.result(st.SQL, execute(ctx, tx, st.SQL, args))
			case st.Async:
				pending = append(pending, conn.ExecAsync(ctx, st.SQL, args...))
			default:
				wk.result(st.SQL, execute(ctx, conn, st.SQL, args))
			}
		}
	}

	endTx()
	for _, ch := range pending {
		res := <-ch
		wk.result("async statement", res.Err)
	}
	return nil
}

func (wk *worker) result(what string, err error) {
	if err == nil {
		wk.ok++
		return
	}
	wk.failed++
	wk.log.Warnw("statement failed", "worker", wk.id, "statement", what, "error", err)
}

// execute runs query through ex, draining the rows of statements that
// return them.
func execute(ctx context.Context, ex executor, query string, args []any) error {
	if !returnsRows(query) {
		_, err := ex.ExecContext(ctx, query, args...)
		return err
	}

	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}

func returnsRows(query string) bool {
	switch sanitize.StatementType(query) {
	case "SELECT", "CTE", "SHOW":
		return true
	}
	return false
}
