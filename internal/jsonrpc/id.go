package jsonrpc

import (
	"encoding/json"
	"math"
)

// Sender names which side of the MITM emitted a message.
type Sender int

const (
	Client Sender = iota
	Server
)

func (s Sender) String() string {
	switch s {
	case Client:
		return "Client"
	case Server:
		return "Server"
	default:
		return "Unknown"
	}
}

type idKind int

const (
	idInvalid idKind = iota
	idString
	idNumber
	idNull
)

// Id is a JSON-RPC request/response identifier: a string, an
// integer-valued number, or invalid (absent or of an unsupported type).
type Id struct {
	kind   idKind
	str    string
	number int64
}

// StringId returns an Id holding a string value.
func StringId(s string) Id { return Id{kind: idString, str: s} }

// NumberId returns an Id holding an integer value.
func NumberId(n int64) Id { return Id{kind: idNumber, number: n} }

// IsValid reports whether the Id is a string or integer-valued number.
func (id Id) IsValid() bool { return id.kind == idString || id.kind == idNumber }

// IsString reports whether the Id holds a string.
func (id Id) IsString() bool { return id.kind == idString }

// IsNumber reports whether the Id holds a number.
func (id Id) IsNumber() bool { return id.kind == idNumber }

// IsNull reports whether the Id was explicitly JSON null, as opposed to
// absent or of an unsupported type. A null Response id is "no match"
// rather than an unsupported-type violation (spec.md §4.5).
func (id Id) IsNull() bool { return id.kind == idNull }

// String returns the string value of the Id; only meaningful if IsString.
func (id Id) String() string { return id.str }

// Number returns the integer value of the Id; only meaningful if IsNumber.
func (id Id) Number() int64 { return id.number }

// idFromJSON interprets a raw "id" member value per spec.md §4.3: a
// string or an integer-valued number is a valid Id; JSON null yields a
// null Id (ok is true, IsValid is false); a non-integer number or any other
// JSON type is invalid.
func idFromJSON(raw json.RawMessage) (id Id, ok bool) {
	if string(raw) == "null" {
		return Id{kind: idNull}, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StringId(s), true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return Id{}, false
		}
		if f != math.Trunc(f) {
			return Id{}, false
		}
		i, err := n.Int64()
		if err != nil {
			return Id{}, false
		}
		return NumberId(i), true
	}

	return Id{}, false
}
