// Package decode turns a framer.Frame into UTF-8-normalised JSON (spec.md
// §4.2): it resolves the declared character encoding from Content-Type,
// transcodes the payload to UTF-8, and parses it as JSON.
package decode

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/aerijo/lspmitm/internal/framer"
	"github.com/aerijo/lspmitm/internal/header"
)

var log = logrus.WithField("component", "decode")

// Message is a frame's payload reduced to its logical JSON contents.
type Message struct {
	Timestamp time.Time
	Size      int64
	JSON      json.RawMessage
}

// ErrorKind enumerates the ways a Frame can fail to decode.
type ErrorKind int

const (
	UnknownEncoding ErrorKind = iota
	InvalidEncoding
	MalformedJSON
	InvalidRoot
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownEncoding:
		return "unknown character encoding"
	case InvalidEncoding:
		return "payload is not valid under its declared encoding"
	case MalformedJSON:
		return "malformed JSON"
	case InvalidRoot:
		return "JSON root must be an object or array"
	default:
		return "unknown decode error"
	}
}

// Error reports why a Frame could not be turned into a Message.
type Error struct {
	Frame framer.Frame
	Kind  ErrorKind
	Err   error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Decoder turns frames into Messages. It holds no per-frame state and is
// safe to reuse across frames within one direction.
type Decoder struct {
	// aliases maps a declared charset name (as it might appear on the
	// wire, e.g. from a nonstandard client) to the IANA name
	// golang.org/x/text/encoding/ianaindex recognises.
	aliases map[string]string
}

// New returns a Decoder with no charset aliases configured.
func New() *Decoder { return &Decoder{} }

// NewWithAliases returns a Decoder that consults aliases before falling
// back to IANA's registry when resolving a Content-Type charset
// parameter, letting an operator teach it names a misbehaving peer uses.
func NewWithAliases(aliases map[string]string) *Decoder {
	return &Decoder{aliases: aliases}
}

// Decode converts frame into a Message, or returns a descriptive Error.
func (d *Decoder) Decode(frame framer.Frame) (*Message, *Error) {
	enc, ok := d.resolveEncoding(frame)
	if !ok {
		return nil, &Error{Frame: frame, Kind: UnknownEncoding}
	}

	utf8Bytes, err := transcode(frame.Payload, enc)
	if err != nil {
		log.WithError(err).Warn("payload invalid under declared encoding")
		return nil, &Error{Frame: frame, Kind: InvalidEncoding, Err: err}
	}

	trimmed := bytes.TrimSpace(utf8Bytes)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, &Error{Frame: frame, Kind: InvalidRoot}
	}

	if !json.Valid(utf8Bytes) {
		return nil, &Error{Frame: frame, Kind: MalformedJSON}
	}

	return &Message{
		Timestamp: frame.Timestamp,
		Size:      frame.FrameEnd - frame.FrameStart,
		JSON:      json.RawMessage(utf8Bytes),
	}, nil
}

// resolveEncoding scans frame's headers for Content-Type and returns the
// encoding implied by its charset parameter, defaulting to UTF-8 when
// Content-Type is absent, unparsable, or carries no charset.
func (d *Decoder) resolveEncoding(frame framer.Frame) (encoding.Encoding, bool) {
	for _, h := range frame.Headers {
		if !equalFoldASCII(h.Name, "Content-Type") {
			continue
		}

		ct, ok := header.ParseContentType(h.Value)
		if !ok {
			return unicode.UTF8, true
		}

		charset, found := ct.Charset()
		if !found {
			return unicode.UTF8, true
		}

		if alias, ok := d.aliases[charset]; ok {
			charset = alias
		}

		enc, err := ianaindex.IANA.Encoding(charset)
		if err != nil || enc == nil {
			log.WithField("charset", charset).Warn("unrecognised charset")
			return nil, false
		}
		return enc, true
	}

	return unicode.UTF8, true
}

func transcode(payload []byte, enc encoding.Encoding) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(payload), enc.NewDecoder())
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
