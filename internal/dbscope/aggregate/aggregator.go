// Package aggregate rebuilds the per-connection command and transaction tree
// of one request from its sealed event log.
//
// Aggregation is a single pass in log order. It never fails: events that
// reference unknown identifiers or arrive out of order create placeholder
// entities, and missing completion events surface as nil fields.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// Binding decides which command a transaction boundary attaches to.
type Binding int

const (
	// BindEnclosed attaches a start to the first command issued while the
	// transaction is open and an end to the last such command. Transactions
	// without enclosed commands stay unbound.
	BindEnclosed Binding = iota
	// BindNearest behaves like BindEnclosed, but an end with no enclosed
	// command binds to the connection's most recent command, and a start
	// with no enclosed command still binds to the next command.
	BindNearest
)

func (b Binding) String() string {
	switch b {
	case BindNearest:
		return "nearest"
	default:
		return "enclosed"
	}
}

// ParseBinding maps a configuration value to a Binding. Empty means enclosed.
func ParseBinding(s string) (Binding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "enclosed":
		return BindEnclosed, nil
	case "nearest":
		return BindNearest, nil
	}
	return BindEnclosed, fmt.Errorf("unknown transaction binding %q", s)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithBinding(b Binding) Option {
	return func(a *Aggregator) { a.binding = b }
}

// Aggregator turns an ordered event list into QueryMetadata. It holds only
// configuration and may be reused.
type Aggregator struct {
	binding Binding
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{binding: BindEnclosed}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// connState is per-connection bookkeeping that only lives for one pass.
type connState struct {
	conn        *Connection
	nextOrdinal int
	openedAt    *time.Duration

	pendingHead *Transaction
	open        []*Transaction
	txByID      map[uuid.UUID]*Transaction
	lastIn      map[*Transaction]*Command
	last        *Command

	finalized     map[*Command]bool
	fingerprinted map[*Command]bool
	seen          map[string]struct{}
}

type pass struct {
	a      *Aggregator
	q      *QueryMetadata
	states map[*Connection]*connState
}

// Aggregate reconstructs the model. It returns nil when events contain no
// database activity.
func (a *Aggregator) Aggregate(events []message.Event) *QueryMetadata {
	p := &pass{a: a, q: newQueryMetadata(), states: make(map[*Connection]*connState)}

	found := false
	for _, e := range events {
		if e == nil || e.Kind().Family() != message.FamilyADO {
			continue
		}
		found = true
		p.apply(e)
	}
	if !found {
		return nil
	}
	return p.q
}

func (p *pass) state(id uuid.UUID) *connState {
	c := p.q.connection(id)
	st, ok := p.states[c]
	if !ok {
		st = &connState{
			conn:          c,
			txByID:        make(map[uuid.UUID]*Transaction),
			lastIn:        make(map[*Transaction]*Command),
			finalized:     make(map[*Command]bool),
			fingerprinted: make(map[*Command]bool),
			seen:          make(map[string]struct{}),
		}
		p.states[c] = st
	}
	return st
}

func (p *pass) apply(e message.Event) {
	h := e.Head()
	st := p.state(h.ConnectionID)

	switch ev := e.(type) {
	case message.CommandStart:
		p.commandStart(st, ev)
	case message.CommandEnd:
		cmd := p.command(st, h.CommandID)
		d := ev.Duration
		cmd.Duration = &d
		if ev.RecordsAffected != nil {
			n := *ev.RecordsAffected
			cmd.RecordsAffected = &n
			if n > 0 {
				cmd.TotalRecords += n
			}
		}
		cmd.IsAsync = cmd.IsAsync || ev.IsAsync
		p.finalize(st, cmd)
	case message.CommandError:
		cmd := p.command(st, h.CommandID)
		d := ev.Duration
		cmd.Duration = &d
		cmd.Exception = ev.Err
		if cmd.Exception == nil {
			cmd.Exception = errors.New("command failed")
		}
		cmd.IsAsync = cmd.IsAsync || ev.IsAsync
		p.finalize(st, cmd)
	case message.CommandStackTrace:
		cmd := p.command(st, h.CommandID)
		if cmd.Exception == nil {
			cmd.StackTrace = ev.Text
		}
	case message.TransactionStart:
		p.transactionStart(st, ev)
	case message.TransactionEnd:
		p.transactionEnd(st, ev)
	case message.ConnectionOpen:
		if st.openedAt == nil {
			off := ev.Offset
			st.openedAt = &off
		}
	case message.ConnectionClose:
		if st.openedAt == nil {
			p.q.Anomalies++
			return
		}
		d := ev.Duration
		if d <= 0 {
			d = ev.Offset - *st.openedAt
		}
		if d < 0 {
			d = 0
		}
		st.conn.Duration = &d
	}
}

// command resolves a command referenced by a non-start event.
func (p *pass) command(st *connState, id uuid.UUID) *Command {
	cmd, _ := st.conn.command(id)
	if cmd.Ordinal == 0 {
		p.q.Anomalies++
	}
	return cmd
}

func (p *pass) commandStart(st *connState, ev message.CommandStart) {
	cmd, _ := st.conn.command(ev.CommandID)
	if cmd.Ordinal != 0 {
		p.q.Anomalies++
		return
	}

	st.nextOrdinal++
	cmd.Ordinal = st.nextOrdinal
	cmd.Text = ev.Text
	cmd.Parameters = ev.Parameters
	cmd.Offset = ev.Offset
	cmd.StartTime = ev.StartTime
	cmd.IsAsync = cmd.IsAsync || ev.IsAsync
	cmd.InTransaction = ev.InTransaction || len(st.open) > 0

	if st.pendingHead != nil {
		cmd.HeadTransaction = st.pendingHead
		st.pendingHead = nil
	}
	for _, tx := range st.open {
		st.lastIn[tx] = cmd
	}
	st.last = cmd

	p.fingerprint(st, cmd)
}

func (p *pass) finalize(st *connState, cmd *Command) {
	st.finalized[cmd] = true
	p.fingerprint(st, cmd)
}

// fingerprint runs duplicate detection once a command has been both started
// and finalized, whatever order those events arrived in.
func (p *pass) fingerprint(st *connState, cmd *Command) {
	if cmd.Ordinal == 0 || !st.finalized[cmd] || st.fingerprinted[cmd] {
		return
	}
	st.fingerprinted[cmd] = true

	key := Fingerprint(cmd.Text, cmd.Parameters)
	if _, dup := st.seen[key]; dup {
		cmd.IsDuplicate = true
		return
	}
	st.seen[key] = struct{}{}
}

// Fingerprint is the duplicate-detection key: trimmed text followed by each
// parameter's name, rendered value and type, length-prefixed so that no two
// different inputs share a key.
func Fingerprint(text string, params []message.Parameter) string {
	var b strings.Builder
	writePart := func(s string) {
		fmt.Fprintf(&b, "%d:%s", len(s), s)
	}
	writePart(strings.TrimSpace(text))
	for _, prm := range params {
		writePart(prm.Name)
		writePart(prm.Rendered())
		writePart(prm.Type)
	}
	return b.String()
}

func (p *pass) transactionStart(st *connState, ev message.TransactionStart) {
	id := ev.TransactionID
	if id == uuid.Nil {
		id = ev.ID
	}

	if tx, ok := st.txByID[id]; ok {
		// The end arrived first; fill in what the start knows.
		tx.IsolationLevel = ev.IsolationLevel
		tx.Offset = ev.Offset
		tx.StartTime = ev.StartTime
		tx.Placeholder = false
		return
	}

	tx := &Transaction{
		ID:             id,
		IsolationLevel: ev.IsolationLevel,
		Offset:         ev.Offset,
		StartTime:      ev.StartTime,
	}
	st.conn.Transactions = append(st.conn.Transactions, tx)
	st.txByID[id] = tx
	st.open = append(st.open, tx)
	st.pendingHead = tx
}

func (p *pass) transactionEnd(st *connState, ev message.TransactionEnd) {
	tx := p.endingTransaction(st, ev)

	committed := ev.Committed
	tx.Committed = &committed
	d := ev.Duration
	tx.Duration = &d

	for i, o := range st.open {
		if o == tx {
			st.open = append(st.open[:i], st.open[i+1:]...)
			break
		}
	}

	if cmd := st.lastIn[tx]; cmd != nil {
		if cmd.TailTransaction == nil {
			cmd.TailTransaction = tx
		}
	} else if p.a.binding == BindNearest && st.last != nil && st.last.TailTransaction == nil {
		st.last.TailTransaction = tx
	}
	delete(st.lastIn, tx)

	if st.pendingHead == tx && p.a.binding == BindEnclosed {
		st.pendingHead = nil
	}
}

// endingTransaction matches an end to its start by id, else to the most
// recent open transaction, else creates a placeholder.
func (p *pass) endingTransaction(st *connState, ev message.TransactionEnd) *Transaction {
	if tx, ok := st.txByID[ev.TransactionID]; ok && ev.TransactionID != uuid.Nil {
		return tx
	}
	if n := len(st.open); n > 0 {
		return st.open[n-1]
	}

	p.q.Anomalies++
	id := ev.TransactionID
	if id == uuid.Nil {
		id = ev.ID
	}
	tx := &Transaction{ID: id, Offset: ev.Offset, StartTime: ev.StartTime, Placeholder: true}
	st.conn.Transactions = append(st.conn.Transactions, tx)
	st.txByID[id] = tx
	return tx
}
