package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/valyala/fastjson"
)

// ErrUnknownKind is returned when a log line carries a kind this package does
// not define.
var ErrUnknownKind = errors.New("unknown event kind")

// wireEvent is the NDJSON shape of every kind. Fields that do not apply to a
// kind are omitted.
type wireEvent struct {
	ID              string      `json:"id"`
	Kind            Kind        `json:"kind"`
	Sequence        uint64      `json:"sequence,omitempty"`
	ConnectionID    string      `json:"connection_id,omitempty"`
	CommandID       string      `json:"command_id,omitempty"`
	TransactionID   string      `json:"transaction_id,omitempty"`
	OffsetNS        int64       `json:"offset_ns"`
	DurationNS      int64       `json:"duration_ns"`
	StartTime       string      `json:"start_time,omitempty"` // RFC3339Nano UTC
	Text            string      `json:"text,omitempty"`
	Parameters      []wireParam `json:"parameters,omitempty"`
	IsAsync         bool        `json:"is_async,omitempty"`
	InTransaction   bool        `json:"in_transaction,omitempty"`
	RecordsAffected *int64      `json:"records_affected,omitempty"`
	Error           string      `json:"error,omitempty"`
	IsolationLevel  string      `json:"isolation_level,omitempty"`
	Committed       *bool       `json:"committed,omitempty"`
	Name            string      `json:"name,omitempty"`
	Category        string      `json:"category,omitempty"`
	SubText         string      `json:"sub_text,omitempty"`
}

// wireParam stores the rendered value; the original Go type is kept in Type.
// A database NULL is written as JSON null so it stays distinct from the
// string "NULL".
type wireParam struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
	Type  string  `json:"type,omitempty"`
	Size  int     `json:"size,omitempty"`
}

func newWireParam(p Parameter) wireParam {
	w := wireParam{Name: p.Name, Type: p.Type, Size: p.Size}
	if !p.IsNull() {
		v := p.Rendered()
		w.Value = &v
	}
	return w
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func toWire(e Event) wireEvent {
	h := e.Head()
	w := wireEvent{
		ID:            idString(h.ID),
		Kind:          e.Kind(),
		Sequence:      h.Sequence,
		ConnectionID:  idString(h.ConnectionID),
		CommandID:     idString(h.CommandID),
		TransactionID: idString(h.TransactionID),
		OffsetNS:      int64(h.Offset),
		DurationNS:    int64(h.Duration),
	}
	if !h.StartTime.IsZero() {
		w.StartTime = h.StartTime.UTC().Format(time.RFC3339Nano)
	}

	switch v := e.(type) {
	case CommandStart:
		w.Text = v.Text
		w.IsAsync = v.IsAsync
		w.InTransaction = v.InTransaction
		for _, p := range v.Parameters {
			w.Parameters = append(w.Parameters, newWireParam(p))
		}
	case CommandEnd:
		w.RecordsAffected = v.RecordsAffected
		w.IsAsync = v.IsAsync
	case CommandError:
		if v.Err != nil {
			w.Error = v.Err.Error()
		}
		w.IsAsync = v.IsAsync
	case CommandStackTrace:
		w.Text = v.Text
	case TransactionStart:
		w.IsolationLevel = v.IsolationLevel
	case TransactionEnd:
		c := v.Committed
		w.Committed = &c
	case Timeline:
		w.Name = v.Name
		w.Category = v.Category
		w.SubText = v.SubText
	}
	return w
}

// Encode writes e as one NDJSON line.
func Encode(w io.Writer, e Event) error {
	data, err := json.Marshal(toWire(e))
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Decoder turns NDJSON lines back into typed events. It reuses a fastjson
// parser and is not safe for concurrent use.
type Decoder struct {
	p fastjson.Parser
}

// Decode parses a single line. The kind field selects the concrete type.
func (d *Decoder) Decode(line []byte) (Event, error) {
	v, err := d.p.ParseBytes(line)
	if err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("parse event: expected object, got %s", v.Type())
	}

	kind := Kind(v.GetStringBytes("kind"))
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	h := Header{
		ID:            ParseID(string(v.GetStringBytes("id"))),
		ConnectionID:  ParseID(string(v.GetStringBytes("connection_id"))),
		CommandID:     ParseID(string(v.GetStringBytes("command_id"))),
		TransactionID: ParseID(string(v.GetStringBytes("transaction_id"))),
		Offset:        time.Duration(v.GetInt64("offset_ns")),
		Duration:      time.Duration(v.GetInt64("duration_ns")),
		Sequence:      v.GetUint64("sequence"),
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if ts := string(v.GetStringBytes("start_time")); ts != "" {
		if t, err := dateparse.ParseIn(ts, time.UTC); err == nil {
			h.StartTime = t.UTC()
		}
	}

	switch kind {
	case KindCommandStart:
		e := CommandStart{
			Header:        h,
			Text:          string(v.GetStringBytes("text")),
			IsAsync:       v.GetBool("is_async"),
			InTransaction: v.GetBool("in_transaction"),
		}
		for _, pv := range v.GetArray("parameters") {
			e.Parameters = append(e.Parameters, Parameter{
				Name:  string(pv.GetStringBytes("name")),
				Value: decodeParamValue(pv.Get("value")),
				Type:  string(pv.GetStringBytes("type")),
				Size:  pv.GetInt("size"),
			})
		}
		return e, nil
	case KindCommandEnd:
		e := CommandEnd{Header: h, IsAsync: v.GetBool("is_async")}
		if rv := v.Get("records_affected"); rv != nil && rv.Type() == fastjson.TypeNumber {
			n := rv.GetInt64()
			e.RecordsAffected = &n
		}
		return e, nil
	case KindCommandError:
		msg := string(v.GetStringBytes("error"))
		if msg == "" {
			msg = "command failed"
		}
		return CommandError{Header: h, Err: errors.New(msg), IsAsync: v.GetBool("is_async")}, nil
	case KindCommandStackTrace:
		return CommandStackTrace{Header: h, Text: string(v.GetStringBytes("text"))}, nil
	case KindTransactionStart:
		return TransactionStart{Header: h, IsolationLevel: string(v.GetStringBytes("isolation_level"))}, nil
	case KindTransactionEnd:
		return TransactionEnd{Header: h, Committed: v.GetBool("committed")}, nil
	case KindConnectionOpen:
		return ConnectionOpen{Header: h}, nil
	case KindConnectionClose:
		return ConnectionClose{Header: h}, nil
	default:
		return Timeline{
			Header:   h,
			Name:     string(v.GetStringBytes("name")),
			Category: string(v.GetStringBytes("category")),
			SubText:  string(v.GetStringBytes("sub_text")),
		}, nil
	}
}

// decodeParamValue keeps the rendered string; JSON null maps back to Null and
// foreign producers may write plain numbers or booleans.
func decodeParamValue(v *fastjson.Value) any {
	if v == nil {
		return Null
	}
	switch v.Type() {
	case fastjson.TypeNull:
		return Null
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	default:
		return string(v.MarshalTo(nil))
	}
}
