package message

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Parameter is one bound statement argument as seen at capture time.
type Parameter struct {
	Name  string
	Value any
	Type  string
	Size  int
}

type nullValue struct{}

func (nullValue) String() string { return "NULL" }

// Null marks a parameter whose value was a database NULL.
var Null any = nullValue{}

// RenderValue converts a parameter value to its display form: nil and Null
// become "NULL", byte slices become 0x followed by uppercase hex pairs, and
// everything else passes through unchanged.
func RenderValue(v any) any {
	switch t := v.(type) {
	case nil, nullValue:
		return "NULL"
	case []byte:
		if t == nil {
			return "NULL"
		}
		var b strings.Builder
		b.Grow(2 + 2*len(t))
		b.WriteString("0x")
		for _, c := range t {
			fmt.Fprintf(&b, "%02X", c)
		}
		return b.String()
	default:
		return v
	}
}

// IsNull reports whether the value is a database NULL.
func (p Parameter) IsNull() bool {
	switch v := p.Value.(type) {
	case nil, nullValue:
		return true
	case []byte:
		return v == nil
	}
	return false
}

// Rendered returns the display form of the value as a string.
func (p Parameter) Rendered() string {
	switch v := RenderValue(p.Value).(type) {
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// NewParameter snapshots a bound argument. Byte slices are copied and
// driver.Valuer values are resolved so the event never aliases caller memory.
func NewParameter(name string, value any) Parameter {
	if valuer, ok := value.(driver.Valuer); ok {
		if v, err := valuer.Value(); err == nil {
			value = v
		}
	}

	p := Parameter{Name: name, Value: value}
	switch v := value.(type) {
	case nil:
		p.Type = "null"
		p.Value = Null
	case []byte:
		p.Type = "bytes"
		if v == nil {
			p.Value = Null
		} else {
			p.Value = append([]byte(nil), v...)
		}
		p.Size = len(v)
	case string:
		p.Type = "string"
		p.Size = len(v)
	default:
		p.Type = fmt.Sprintf("%T", value)
	}
	return p
}
