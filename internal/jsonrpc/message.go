package jsonrpc

import (
	"encoding/json"
	"time"
)

// Kind classifies a validated message (spec.md §4.3).
type Kind int

const (
	KindUnknown Kind = iota
	KindNotification
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindNotification:
		return "Notification"
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// TypedMessage is the fully-classified, issue-annotated result of
// validating one decode.Message (spec.md §4.3). BatchIndex is non-nil
// when the message came from one element of an array-root batch; index
// is the element's position, a hook for a future regrouping pass (see
// Open Question decisions in the grounding ledger).
type TypedMessage struct {
	Sender Sender
	Kind   Kind

	// Sequence is a monotonically increasing index unique per pipeline
	// instance (spec.md §3, §9 "common header"), assigned in the total
	// order the shared Registry pair's mutex already establishes across
	// both directions. Zero until stamped by the Assembly's observer.
	Sequence uint64

	Timestamp  time.Time
	Size       int64
	JSON       json.RawMessage
	Issues     *IssueTree
	BatchIndex *int

	// Method is set for Notification and Request, and for Response once
	// correlated with its Request.
	Method string

	// Id is set for Request and Response.
	Id Id

	// Request/Response holds the back-reference established on
	// correlation (spec.md §4.5). Neither field implies ownership.
	Request  *Request
	Response *Response
}

// Request is the state a Registry tracks for an in-flight Request: just
// enough to report a duplicate-Id shadow or compute a Response's method.
type Request struct {
	Method  string
	Message *TypedMessage
}

// Response is the minimal back-reference a Request gets to the Response
// that resolved it.
type Response struct {
	Message *TypedMessage
}
