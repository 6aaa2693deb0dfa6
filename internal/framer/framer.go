// Package framer implements the byte-stream framer described in spec.md
// §4.1: it turns a noisy, arbitrarily-chunked byte stream into a sequence
// of length-prefixed Frames, recovering from malformed input without
// losing subsequent well-formed frames.
package framer

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aerijo/lspmitm/internal/ascii"
)

var log = logrus.WithField("component", "framer")

// Header is a single (name, value) header pair. Name comparisons elsewhere
// are ASCII case-insensitive; the original case is preserved here.
type Header struct {
	Name  string
	Value string
}

// Frame is a contiguous region of the input stream: parsed headers plus a
// payload of declared length (spec.md §3).
type Frame struct {
	// Timestamp is the wall-clock time (millisecond resolution) the frame
	// was fully received.
	Timestamp time.Time

	// FrameStart is the stream offset of the first header byte.
	FrameStart int64

	// FrameEnd is the stream offset one past the last payload byte.
	FrameEnd int64

	// PayloadStart is the stream offset of the first payload byte.
	PayloadStart int64

	// Headers are the headers of the message, in order. May contain
	// duplicates.
	Headers []Header

	// Payload is the full Content-Length-declared payload.
	Payload []byte

	// FromRecoveryMode is true if the framer's recovery counter was non-zero
	// when this frame was emitted: always for the first frame after a
	// framing error, and also for later frames while errors counted during
	// the same malformed stretch have not yet been worked off (one per
	// emitted frame).
	FromRecoveryMode bool
}

// ErrorKind enumerates the kinds of framing error spec.md §4.1/§7 define.
type ErrorKind int

const (
	MissingContentLength ErrorKind = iota
	MultipleContentLength
	ContentLengthNaN
	ContentLengthNegative
	MissingHeaderName
	UnexpectedCharacter
	TruncatedFrame
)

func (k ErrorKind) String() string {
	switch k {
	case MissingContentLength:
		return "missing Content-Length header"
	case MultipleContentLength:
		return "Content-Length is defined multiple times"
	case ContentLengthNaN:
		return "Content-Length header value is not a number"
	case ContentLengthNegative:
		return "Content-Length value is negative"
	case MissingHeaderName:
		return "header field missing name"
	case UnexpectedCharacter:
		return "unexpected character in stream"
	case TruncatedFrame:
		return "stream ended mid-frame"
	default:
		return "unknown framing error"
	}
}

// FrameError reports a framing violation: where it was found (both as a
// global stream offset and an offset within the message being framed when
// the error occurred) and what kind of violation it was.
type FrameError struct {
	GlobalOffset int64
	LocalOffset  int64
	Kind         ErrorKind
}

func (e FrameError) Error() string {
	return e.Kind.String()
}

type headersState int

const (
	stateNameStart headersState = iota
	stateName
	stateValue
	stateValueEnd
	stateEnd
)

type topState int

const (
	stateHeaders topState = iota
	statePayload
)

// Framer is a resumable state machine: call Write repeatedly with
// arbitrarily-sized chunks of the input stream. Completed frames and
// framing errors are delivered to the callbacks supplied at construction.
//
// A Framer is not safe for concurrent use; it is owned by exactly one
// pipeline direction (spec.md §5).
type Framer struct {
	onFrame func(Frame)
	onError func(FrameError)

	state        topState
	headerState  headersState
	recoveryMode int // 0 = normal; >0 = suppress further errors until N more frames emit

	pending    int64 // bytes remaining to read for the current payload
	offset     int64 // stream offset of the next byte to be consumed
	frameStart int64 // stream offset of the start of the current frame

	payload []byte
	headers []Header

	headerName  []byte
	headerValue []byte
}

// New returns a Framer that invokes onFrame for each completed frame and
// onError for each framing violation.
func New(onFrame func(Frame), onError func(FrameError)) *Framer {
	return &Framer{onFrame: onFrame, onError: onError}
}

// Write feeds the next chunk of the byte stream to the framer.
func (f *Framer) Write(data []byte) {
	for _, c := range data {
		switch f.state {
		case stateHeaders:
			f.appendHeader(c)
		case statePayload:
			f.appendPayload(c)
		}
		f.offset++
	}
}

// Close signals clean end-of-stream. If bytes had been consumed toward an
// incomplete frame, a TruncatedFrame error is emitted; a clean boundary
// (no partial frame in progress) emits nothing, per spec.md §5
// "Cancellation".
func (f *Framer) Close() {
	if f.offset == f.frameStart {
		return
	}
	f.onError(FrameError{GlobalOffset: f.offset, LocalOffset: f.offset - f.frameStart, Kind: TruncatedFrame})
}

func (f *Framer) appendHeader(c byte) {
	switch f.headerState {
	case stateNameStart:
		if c == ':' {
			f.handleError(MissingHeaderName)
			return
		}
		if c == '\r' {
			f.headerState = stateEnd
			return
		}
		f.headerState = stateName
		fallthrough
	case stateName:
		if ascii.IsTChar(c) {
			f.headerName = append(f.headerName, c)
		} else if c == ':' {
			f.headerState = stateValue
		} else {
			f.handleError(UnexpectedCharacter)
		}

	case stateValue:
		if ascii.IsHorizontalWhitespace(c) || ascii.IsVChar(c) {
			f.headerValue = append(f.headerValue, c)
		} else if c == '\r' {
			f.headerState = stateValueEnd
		} else {
			f.handleError(UnexpectedCharacter)
		}

	case stateValueEnd:
		if c != '\n' {
			f.handleError(UnexpectedCharacter)
			return
		}
		f.headers = append(f.headers, Header{
			Name:  string(f.headerName),
			Value: trimHorizontalWhitespace(string(f.headerValue)),
		})
		f.headerName = nil
		f.headerValue = nil
		f.headerState = stateNameStart

	case stateEnd:
		if c != '\n' {
			f.handleError(UnexpectedCharacter)
			return
		}
		f.state = statePayload
		f.initialisePayload()
	}
}

func trimHorizontalWhitespace(s string) string {
	start := 0
	for start < len(s) && ascii.IsHorizontalWhitespace(s[start]) {
		start++
	}
	end := len(s)
	for end > start && ascii.IsHorizontalWhitespace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func (f *Framer) initialisePayload() {
	f.payload = f.payload[:0]

	n, ok := f.payloadSizeFromHeaders()
	if !ok {
		return
	}
	f.pending = n

	if n == 0 {
		f.emitFrame()
		return
	}

	f.payload = make([]byte, 0, n)
}

func (f *Framer) appendPayload(c byte) {
	f.payload = append(f.payload, c)
	f.pending--
	if f.pending == 0 {
		f.emitFrame()
	}
}

func (f *Framer) emitFrame() {
	frame := Frame{
		Timestamp:        time.Now(),
		FrameStart:       f.frameStart,
		FrameEnd:         f.offset + 1,
		PayloadStart:     f.offset + 1 - int64(len(f.payload)),
		Headers:          append([]Header(nil), f.headers...),
		Payload:          append([]byte(nil), f.payload...),
		FromRecoveryMode: f.recoveryMode != 0,
	}
	f.onFrame(frame)

	f.frameStart = f.offset + 1
	f.state = stateHeaders
	f.headerState = stateNameStart
	f.headers = nil

	if f.recoveryMode > 0 {
		f.recoveryMode--
	}
}

// payloadSizeFromHeaders scans the accumulated headers for exactly one
// Content-Length and parses it as a non-negative decimal integer.
func (f *Framer) payloadSizeFromHeaders() (int64, bool) {
	length := int64(-1)

	for _, h := range f.headers {
		if !equalFoldASCII(h.Name, "Content-Length") {
			continue
		}

		if length >= 0 {
			f.handleError(MultipleContentLength)
			return 0, false
		}

		n, err := strconv.ParseInt(h.Value, 10, 64)
		if err != nil {
			f.handleError(ContentLengthNaN)
			return 0, false
		}

		if n < 0 {
			f.handleError(ContentLengthNegative)
			return 0, false
		}

		length = n
	}

	if length >= 0 {
		return length, true
	}

	f.handleError(MissingContentLength)
	return 0, false
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

func (f *Framer) handleError(kind ErrorKind) {
	if f.recoveryMode == 0 {
		err := FrameError{GlobalOffset: f.offset, LocalOffset: f.offset - f.frameStart, Kind: kind}
		log.WithFields(logrus.Fields{
			"kind":          kind.String(),
			"global_offset": err.GlobalOffset,
			"local_offset":  err.LocalOffset,
		}).Warn("framing error")
		f.onError(err)
	}
	// The offending byte has been consumed; the next frame starts after it.
	f.frameStart = f.offset + 1
	f.headers = nil
	f.headerName = nil
	f.headerValue = nil
	f.state = stateHeaders
	f.headerState = stateNameStart
	f.recoveryMode++
}
