// Package jsonrpc classifies decoded JSON payloads as JSON-RPC 2.0
// envelopes, attaches a schema-issue tree, and correlates Requests with
// their Responses across a pair of directional pipelines (spec.md
// §4.3-§4.5).
package jsonrpc

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/aerijo/lspmitm/internal/decode"
)

var log = logrus.WithField("component", "jsonrpc")

// recognisedErrorCodes are the JSON-RPC / LSP error codes spec.md §4.3
// lists as not warranting a "code not recognised" warning.
var recognisedErrorCodes = map[int64]bool{
	-32700: true, // ParseError
	-32600: true, // InvalidRequest
	-32601: true, // MethodNotFound
	-32602: true, // InvalidParams
	-32603: true, // InternalError
	-32099: true, // ServerErrorStart
	-32000: true, // ServerErrorEnd
	-32002: true, // ServerNotInitialized
	-32001: true, // UnknownErrorCode
	-32800: true, // RequestCancelled
	-32801: true, // ContentModified
}

// MethodHook lets a caller perform additional, method-specific validation
// on a Notification or Request (spec.md §4.3, "deliberately shallow
// extension point"). The default Validator performs none.
type MethodHook func(method string, params json.RawMessage, issues *IssueTree)

// Validator classifies Messages and attaches schema issues. It holds no
// per-message state; correlation state lives in the Registry supplied to
// New.
type Validator struct {
	sender     Sender
	registry   *Registry
	methodHook MethodHook
}

// New returns a Validator for one direction (spec.md's Client/Server
// Entity). registry is the Registry this validator's own Requests are
// inserted into, and whose peer is consulted to correlate Responses.
func New(sender Sender, registry *Registry, hook MethodHook) *Validator {
	if hook == nil {
		hook = func(string, json.RawMessage, *IssueTree) {}
	}
	return &Validator{sender: sender, registry: registry, methodHook: hook}
}

// Validate classifies msg and returns one or more TypedMessages: exactly
// one for an object or primitive root, or one per element for an array
// root (spec.md §4.3 "Batches" — each batch entry is emitted as an
// independent TypedMessage, not wrapped).
func (v *Validator) Validate(msg decode.Message) []*TypedMessage {
	var root any
	if err := json.Unmarshal(msg.JSON, &root); err != nil {
		log.WithError(err).Error("decode.Message.JSON was not valid JSON; this is a programmer error upstream")
		return []*TypedMessage{{
			Sender:    v.sender,
			Kind:      KindUnknown,
			Timestamp: msg.Timestamp,
			Size:      msg.Size,
			JSON:      msg.JSON,
			Issues:    issueWith("could not re-parse decoded JSON"),
		}}
	}

	switch r := root.(type) {
	case []any:
		return v.validateBatch(msg, r)
	case map[string]any:
		return []*TypedMessage{v.validateObject(msg, r, nil)}
	default:
		issues := &IssueTree{}
		issues.AddError("unexpected message JSON type")
		return []*TypedMessage{{
			Sender:    v.sender,
			Kind:      KindUnknown,
			Timestamp: msg.Timestamp,
			Size:      msg.Size,
			JSON:      msg.JSON,
			Issues:    issues,
		}}
	}
}

func issueWith(msg string) *IssueTree {
	t := &IssueTree{}
	t.AddError(msg)
	return t
}

func (v *Validator) validateBatch(msg decode.Message, batch []any) []*TypedMessage {
	out := make([]*TypedMessage, 0, len(batch))
	for i, entry := range batch {
		idx := i
		switch e := entry.(type) {
		case map[string]any:
			tm := v.validateObject(msg, e, &idx)
			out = append(out, tm)
		default:
			issues := &IssueTree{}
			issues.AddError("unexpected batch entry type")
			out = append(out, &TypedMessage{
				Sender:     v.sender,
				Kind:       KindUnknown,
				Timestamp:  msg.Timestamp,
				Size:       msg.Size,
				Issues:     issues,
				BatchIndex: &idx,
			})
		}
	}
	return out
}

func (v *Validator) validateObject(msg decode.Message, obj map[string]any, batchIndex *int) *TypedMessage {
	issues := NewObjectIssues()

	v.validateJsonrpcMember(obj, issues)

	methodRaw, hasMethod := obj["method"]
	idRaw, hasId := obj["id"]

	var method string
	methodOK := false
	if hasMethod {
		if s, ok := methodRaw.(string); ok {
			method = s
			methodOK = true
		} else {
			issues.KeyError("method", "expected method to be a string")
		}
	}

	var id Id
	idOK := false
	idIsNull := false
	if hasId {
		raw, err := json.Marshal(idRaw)
		if err == nil {
			parsed, ok := idFromJSON(raw)
			if ok && parsed.IsNull() {
				idIsNull = true
			} else if ok {
				id = parsed
				idOK = true
			} else {
				issues.KeyError("id", "expected id to be a string or number")
			}
		}
	}

	for key := range obj {
		switch key {
		case "jsonrpc", "method", "id", "params", "result", "error":
			continue
		default:
			issues.KeyError(key, "unexpected member '"+key+"'")
		}
	}

	entryJSON := msg.JSON
	if batchIndex != nil {
		if b, err := json.Marshal(obj); err == nil {
			entryJSON = b
		}
	}

	tm := &TypedMessage{
		Sender:     v.sender,
		Timestamp:  msg.Timestamp,
		Size:       msg.Size,
		JSON:       entryJSON,
		Issues:     issues,
		BatchIndex: batchIndex,
	}

	switch {
	case methodOK && idOK:
		tm.Kind = KindRequest
		tm.Method = method
		tm.Id = id
		v.validateParams(obj, issues)
		v.methodHook(method, nil, issues)
		v.buildRequest(tm, issues)

	case methodOK && !hasId:
		tm.Kind = KindNotification
		tm.Method = method
		v.validateParams(obj, issues)
		v.methodHook(method, nil, issues)

	case !hasMethod && (idOK || idIsNull):
		tm.Kind = KindResponse
		if idOK {
			tm.Id = id
		}
		v.validateResultOrError(obj, issues)
		v.buildResponse(tm, idOK, id, idIsNull, issues)

	default:
		tm.Kind = KindUnknown
		issues.AddError("could not identify message kind")
	}

	return tm
}

func (v *Validator) validateParams(obj map[string]any, issues *IssueTree) {
	params, ok := obj["params"]
	if !ok {
		return
	}
	switch params.(type) {
	case map[string]any, []any:
		return
	default:
		issues.KeyError("params", "expected params to be an object or array")
	}
}

func (v *Validator) validateResultOrError(obj map[string]any, issues *IssueTree) {
	_, hasResult := obj["result"]
	errVal, hasError := obj["error"]

	switch {
	case hasResult && hasError:
		issues.KeyError("error", "'error' member not permitted when 'result' is present")
	case !hasResult && !hasError:
		issues.AddError("'result' or 'error' member required on a Response")
	case hasError:
		v.validateResponseError(errVal, issues)
	}
}

func (v *Validator) validateResponseError(errVal any, issues *IssueTree) {
	errObj, ok := errVal.(map[string]any)
	if !ok {
		issues.KeyError("error", "'error' member must be an object")
		return
	}

	errIssues := issues.Member("error")

	_, hasCode := errObj["code"]
	_, hasMessage := errObj["message"]

	for key, val := range errObj {
		switch key {
		case "code":
			n, isNumber := val.(float64)
			if !isNumber || n != float64(int64(n)) {
				errIssues.KeyError("code", "the 'code' member must be an integer")
				continue
			}
			if !recognisedErrorCodes[int64(n)] {
				errIssues.Member("code").AddWarning("error code not recognised")
			}
		case "message":
			if _, ok := val.(string); !ok {
				errIssues.KeyError("message", "error message must be a string")
			}
		case "data":
			// any type, or absent
		default:
			errIssues.KeyError(key, "unexpected member '"+key+"'")
		}
	}

	if !hasCode {
		errIssues.AddError("'code' member required on Response error")
	}
	if !hasMessage {
		errIssues.AddError("'message' member required on Response error")
	}
}

func (v *Validator) validateJsonrpcMember(obj map[string]any, issues *IssueTree) {
	val, ok := obj["jsonrpc"]
	if !ok {
		issues.AddError("'jsonrpc' member missing")
		return
	}
	s, ok := val.(string)
	if !ok {
		issues.KeyError("jsonrpc", `expected value to be the string "2.0"`)
		return
	}
	if s != "2.0" {
		issues.Member("jsonrpc").AddError(`expected value to be "2.0"`)
	}
}

func (v *Validator) buildRequest(tm *TypedMessage, issues *IssueTree) {
	req := &Request{Method: tm.Method, Message: tm}
	tm.Request = req

	if v.registry == nil {
		return
	}
	if previous := v.registry.InsertRequest(tm.Id, req); previous != nil {
		issues.Member("id").AddError("this id is already in use for an existing request (" + previous.Method + ")")
	}
}

func (v *Validator) buildResponse(tm *TypedMessage, idOK bool, id Id, idIsNull bool, issues *IssueTree) {
	if idIsNull {
		issues.Member("id").AddInfo("id is null; response cannot be correlated")
		return
	}
	if !idOK {
		return
	}
	if v.registry == nil {
		return
	}

	req := v.registry.RetrieveForResponse(id)
	if req == nil {
		issues.Member("id").AddError("id does not correspond to any pending request")
		return
	}

	tm.Method = req.Method
	tm.Request = req
	req.Message.Response = &Response{Message: tm}
}
