// Package message defines the events published while database commands run
// inside one request. Every kind is its own struct; consumers switch on the
// concrete type instead of inspecting payload shapes.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags the concrete event type.
type Kind string

const (
	KindCommandStart      Kind = "command_start"
	KindCommandEnd        Kind = "command_end"
	KindCommandError      Kind = "command_error"
	KindCommandStackTrace Kind = "command_stack_trace"
	KindTransactionStart  Kind = "transaction_start"
	KindTransactionEnd    Kind = "transaction_end"
	KindConnectionOpen    Kind = "connection_open"
	KindConnectionClose   Kind = "connection_close"
	KindTimeline          Kind = "timeline"
)

// Family groups kinds that are persisted and queried together.
type Family string

const (
	// FamilyADO holds every database activity kind.
	FamilyADO      Family = "ado"
	FamilyTimeline Family = "timeline"
)

// Family returns the family a kind belongs to.
func (k Kind) Family() Family {
	if k == KindTimeline {
		return FamilyTimeline
	}
	return FamilyADO
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCommandStart, KindCommandEnd, KindCommandError, KindCommandStackTrace,
		KindTransactionStart, KindTransactionEnd, KindConnectionOpen, KindConnectionClose,
		KindTimeline:
		return true
	}
	return false
}

// Header is shared by all events. CommandID is uuid.Nil for connection and
// transaction kinds; TransactionID is only set on transaction kinds.
type Header struct {
	ID            uuid.UUID
	ConnectionID  uuid.UUID
	CommandID     uuid.UUID
	TransactionID uuid.UUID
	Offset        time.Duration
	Duration      time.Duration
	StartTime     time.Time
	// Sequence is stamped by the request store at append time and increases
	// strictly with publish order.
	Sequence uint64
}

// Event is implemented by the kind-specific types in this package only.
type Event interface {
	Kind() Kind
	Head() Header
	withSequence(seq uint64) Event
}

// Stamp returns a copy of e carrying the given sequence number.
func Stamp(e Event, seq uint64) Event {
	return e.withSequence(seq)
}

// CommandStart is published right before a statement is sent to the database.
type CommandStart struct {
	Header
	Text       string
	Parameters []Parameter
	IsAsync    bool
	// InTransaction is true when the statement ran on a transaction handle.
	InTransaction bool
}

// CommandEnd is published when a command or one of its result sets completes.
// RecordsAffected is nil when the driver could not report it.
type CommandEnd struct {
	Header
	RecordsAffected *int64
	IsAsync         bool
}

// CommandError is published instead of CommandEnd when the command failed.
type CommandError struct {
	Header
	Err     error
	IsAsync bool
}

// CommandStackTrace carries the filtered stack of the code that issued the command.
type CommandStackTrace struct {
	Header
	Text string
}

type TransactionStart struct {
	Header
	IsolationLevel string
}

type TransactionEnd struct {
	Header
	Committed bool
}

type ConnectionOpen struct {
	Header
}

// ConnectionClose carries the open-to-close span in Duration.
type ConnectionClose struct {
	Header
}

// Timeline is a named span or point captured by application code.
type Timeline struct {
	Header
	Name     string
	Category string
	SubText  string
}

func (CommandStart) Kind() Kind      { return KindCommandStart }
func (CommandEnd) Kind() Kind        { return KindCommandEnd }
func (CommandError) Kind() Kind      { return KindCommandError }
func (CommandStackTrace) Kind() Kind { return KindCommandStackTrace }
func (TransactionStart) Kind() Kind  { return KindTransactionStart }
func (TransactionEnd) Kind() Kind    { return KindTransactionEnd }
func (ConnectionOpen) Kind() Kind    { return KindConnectionOpen }
func (ConnectionClose) Kind() Kind   { return KindConnectionClose }
func (Timeline) Kind() Kind          { return KindTimeline }

func (e CommandStart) Head() Header      { return e.Header }
func (e CommandEnd) Head() Header        { return e.Header }
func (e CommandError) Head() Header      { return e.Header }
func (e CommandStackTrace) Head() Header { return e.Header }
func (e TransactionStart) Head() Header  { return e.Header }
func (e TransactionEnd) Head() Header    { return e.Header }
func (e ConnectionOpen) Head() Header    { return e.Header }
func (e ConnectionClose) Head() Header   { return e.Header }
func (e Timeline) Head() Header          { return e.Header }

func (e CommandStart) withSequence(n uint64) Event      { e.Sequence = n; return e }
func (e CommandEnd) withSequence(n uint64) Event        { e.Sequence = n; return e }
func (e CommandError) withSequence(n uint64) Event      { e.Sequence = n; return e }
func (e CommandStackTrace) withSequence(n uint64) Event { e.Sequence = n; return e }
func (e TransactionStart) withSequence(n uint64) Event  { e.Sequence = n; return e }
func (e TransactionEnd) withSequence(n uint64) Event    { e.Sequence = n; return e }
func (e ConnectionOpen) withSequence(n uint64) Event    { e.Sequence = n; return e }
func (e ConnectionClose) withSequence(n uint64) Event   { e.Sequence = n; return e }
func (e Timeline) withSequence(n uint64) Event          { e.Sequence = n; return e }

// idNamespace maps identifiers that are not UUIDs onto stable UUIDs.
var idNamespace = uuid.MustParse("4f1c2d0e-8a57-4d8b-9f5e-2b7c1e6a9d31")

// ParseID accepts a UUID or any other opaque identifier. Non-UUID strings map
// to a name-based UUID so the same string always yields the same ID.
func ParseID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.NewSHA1(idNamespace, []byte(s))
}
