package pipeline

import (
	"bytes"
	"strconv"
	"sync"
	"testing"

	"github.com/aerijo/lspmitm/internal/decode"
	"github.com/aerijo/lspmitm/internal/framer"
	"github.com/aerijo/lspmitm/internal/jsonrpc"
)

type recordingObserver struct {
	mu           sync.Mutex
	messages     []*jsonrpc.TypedMessage
	frameErrors  []framer.FrameError
	decodeErrors []*decode.Error
}

func (r *recordingObserver) OnMessage(tm *jsonrpc.TypedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, tm)
}

func (r *recordingObserver) OnFrameError(sender jsonrpc.Sender, err framer.FrameError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameErrors = append(r.frameErrors, err)
}

func (r *recordingObserver) OnDecodeError(sender jsonrpc.Sender, err *decode.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decodeErrors = append(r.decodeErrors, err)
}

func frame(body string) string {
	return "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
}

func TestAssemblyCorrelatesRequestAcrossDirections(t *testing.T) {
	obs := &recordingObserver{}

	reqPayload := frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	respPayload := frame(`{"jsonrpc":"2.0","id":1,"result":{}}`)

	var serverOut, clientOut bytes.Buffer

	a := NewAssembly(Streams{
		ClientIn:  bytes.NewBufferString(reqPayload),
		ServerOut: &serverOut,
		ServerIn:  bytes.NewBufferString(respPayload),
		ClientOut: &clientOut,
	}, nil, nil, obs)

	a.Run()

	if len(obs.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(obs.messages))
	}

	var req, resp *jsonrpc.TypedMessage
	for _, m := range obs.messages {
		switch m.Kind {
		case jsonrpc.KindRequest:
			req = m
		case jsonrpc.KindResponse:
			resp = m
		}
	}

	if req == nil || resp == nil {
		t.Fatalf("expected one request and one response, got %+v", obs.messages)
	}
	if resp.Method != "initialize" {
		t.Fatalf("expected correlated response method 'initialize', got %q", resp.Method)
	}

	if serverOut.String() != reqPayload {
		t.Fatalf("expected client bytes mirrored to server output, got %q", serverOut.String())
	}
	if clientOut.String() != respPayload {
		t.Fatalf("expected server bytes mirrored to client output, got %q", clientOut.String())
	}
}

func TestAssemblyForwardsBytesUnmodified(t *testing.T) {
	obs := &recordingObserver{}

	payload := frame(`{"jsonrpc":"2.0","method":"noop"}`)
	clientIn := bytes.NewBufferString(payload)
	var serverOut bytes.Buffer

	a := NewAssembly(Streams{
		ClientIn:  clientIn,
		ServerOut: &serverOut,
		ServerIn:  bytes.NewBufferString(""),
		ClientOut: &bytes.Buffer{},
	}, nil, nil, obs)

	a.Run()

	if serverOut.String() != payload {
		t.Fatalf("expected mirrored bytes %q, got %q", payload, serverOut.String())
	}
}

func TestAssemblyReportsFrameErrors(t *testing.T) {
	obs := &recordingObserver{}

	a := NewAssembly(Streams{
		ClientIn:  bytes.NewBufferString("Content-Length: bogus\r\n\r\n"),
		ServerOut: &bytes.Buffer{},
		ServerIn:  bytes.NewBufferString(""),
		ClientOut: &bytes.Buffer{},
	}, nil, nil, obs)

	a.Run()

	if len(obs.frameErrors) != 1 || obs.frameErrors[0].Kind != framer.ContentLengthNaN {
		t.Fatalf("expected a ContentLengthNaN frame error, got %+v", obs.frameErrors)
	}
}
