// Package pipeline wires the Framer, Decoder, and Validator stages into
// one directional inbound pipeline, and assembles two such pipelines
// (Client and Server) around a shared Correlator pair (spec.md §2, §5).
package pipeline

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/aerijo/lspmitm/internal/decode"
	"github.com/aerijo/lspmitm/internal/framer"
	"github.com/aerijo/lspmitm/internal/jsonrpc"
)

var log = logrus.WithField("component", "pipeline")

// Observer receives the events a Pipeline produces. Implementations must
// not block: spec.md §5 requires "no operation inside the pipeline... to
// block on downstream consumption".
type Observer interface {
	OnMessage(*jsonrpc.TypedMessage)
	OnFrameError(sender jsonrpc.Sender, err framer.FrameError)
	OnDecodeError(sender jsonrpc.Sender, err *decode.Error)
}

// Pipeline runs one direction's Framer -> Decoder -> Validator chain. It
// is owned by exactly one goroutine and is not safe for concurrent Feed
// calls (spec.md §5 "Scheduling model").
type Pipeline struct {
	sender    jsonrpc.Sender
	framer    *framer.Framer
	decoder   *decode.Decoder
	validator *jsonrpc.Validator
	observer  Observer
}

// New returns a Pipeline for one direction. registry is the Registry this
// pipeline's Validator inserts its own Requests into. charsetAliases, if
// non-nil, is consulted by the Decoder before IANA's registry.
func New(sender jsonrpc.Sender, registry *jsonrpc.Registry, hook jsonrpc.MethodHook, charsetAliases map[string]string, observer Observer) *Pipeline {
	p := &Pipeline{
		sender:    sender,
		decoder:   decode.NewWithAliases(charsetAliases),
		validator: jsonrpc.New(sender, registry, hook),
		observer:  observer,
	}
	p.framer = framer.New(p.onFrame, p.onFrameError)
	return p
}

// Feed processes the next chunk of this direction's byte stream. Forwarding
// of the same bytes to the opposite output is the caller's responsibility
// (spec.md §5 "Forwarding independence") and must happen independently of
// this call, not after it.
func (p *Pipeline) Feed(data []byte) {
	p.framer.Write(data)
}

// Close signals clean end-of-stream for this direction.
func (p *Pipeline) Close() {
	p.framer.Close()
}

func (p *Pipeline) onFrame(f framer.Frame) {
	msg, decErr := p.decoder.Decode(f)
	if decErr != nil {
		log.WithFields(logrus.Fields{"sender": p.sender, "kind": decErr.Kind}).Warn("decode error")
		p.observer.OnDecodeError(p.sender, decErr)
		return
	}

	for _, tm := range p.validator.Validate(*msg) {
		p.observer.OnMessage(tm)
	}
}

func (p *Pipeline) onFrameError(err framer.FrameError) {
	p.observer.OnFrameError(p.sender, err)
}

// copyLoop reads from r in arbitrary-sized chunks, forwarding each chunk
// verbatim to w before feeding it to feed, matching spec.md §5's
// guarantee that forwarding may happen before, and independently of,
// parsing. It returns when r reaches EOF or errors.
func copyLoop(r io.Reader, w io.Writer, feed func([]byte)) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if w != nil {
				if _, werr := w.Write(chunk); werr != nil {
					log.WithError(werr).Warn("forwarding write failed")
				}
			}
			feed(chunk)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
