package aggregate

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// Transaction is one database transaction seen on a connection.
type Transaction struct {
	ID             uuid.UUID
	IsolationLevel string
	Offset         time.Duration
	StartTime      time.Time
	Duration       *time.Duration
	// Committed is nil when no completion event was observed.
	Committed *bool
	// Placeholder is true when the end was seen without a matching start.
	Placeholder bool
}

// Completed reports whether an end event was observed.
func (t *Transaction) Completed() bool {
	return t.Committed != nil
}

// Command is one statement execution on a connection.
type Command struct {
	ID              uuid.UUID
	Text            string
	Parameters      []message.Parameter
	RecordsAffected *int64
	TotalRecords    int64
	Offset          time.Duration
	StartTime       time.Time
	// Duration is nil until an end or error event has been processed.
	Duration      *time.Duration
	IsAsync       bool
	InTransaction bool
	Exception     error
	StackTrace    string
	IsDuplicate   bool

	HeadTransaction *Transaction
	TailTransaction *Transaction

	// Ordinal is 1-based per connection in start order; 0 means the start
	// event was never seen.
	Ordinal int
}

func (c *Command) HasError() bool {
	return c.Exception != nil
}

// Finalized reports whether an end or error event was processed.
func (c *Command) Finalized() bool {
	return c.Duration != nil
}

// Connection holds commands in first-reference order and transactions in
// start order.
type Connection struct {
	ID           uuid.UUID
	Transactions []*Transaction
	Duration     *time.Duration

	commands []*Command
	byID     map[uuid.UUID]*Command
}

func newConnection(id uuid.UUID) *Connection {
	return &Connection{ID: id, byID: make(map[uuid.UUID]*Command)}
}

// Commands returns the connection's commands in insertion order.
func (c *Connection) Commands() []*Command {
	return c.commands
}

// Command looks up a command by id.
func (c *Connection) Command(id uuid.UUID) (*Command, bool) {
	cmd, ok := c.byID[id]
	return cmd, ok
}

// Empty reports whether the connection has neither commands nor transactions.
func (c *Connection) Empty() bool {
	return len(c.commands) == 0 && len(c.Transactions) == 0
}

func (c *Connection) command(id uuid.UUID) (*Command, bool) {
	if cmd, ok := c.byID[id]; ok {
		return cmd, false
	}
	cmd := &Command{ID: id}
	c.byID[id] = cmd
	c.commands = append(c.commands, cmd)
	return cmd, true
}

// QueryMetadata is the reconstructed model for one request.
type QueryMetadata struct {
	connections []*Connection
	byID        map[uuid.UUID]*Connection

	// Anomalies counts events that needed a placeholder or were ignored.
	Anomalies int
}

func newQueryMetadata() *QueryMetadata {
	return &QueryMetadata{byID: make(map[uuid.UUID]*Connection)}
}

// Connections returns connections in first-reference order.
func (q *QueryMetadata) Connections() []*Connection {
	if q == nil {
		return nil
	}
	return q.connections
}

// Connection looks up a connection by id.
func (q *QueryMetadata) Connection(id uuid.UUID) (*Connection, bool) {
	if q == nil {
		return nil, false
	}
	c, ok := q.byID[id]
	return c, ok
}

func (q *QueryMetadata) connection(id uuid.UUID) *Connection {
	if c, ok := q.byID[id]; ok {
		return c
	}
	c := newConnection(id)
	q.byID[id] = c
	q.connections = append(q.connections, c)
	return c
}
