package pipeline

import (
	"bufio"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/aerijo/lspmitm/internal/decode"
	"github.com/aerijo/lspmitm/internal/framer"
	"github.com/aerijo/lspmitm/internal/jsonrpc"
)

// Streams bundles the four byte-oriented channels an Assembly mirrors
// between (spec.md §6 "External interfaces"): client input/output and
// server input/output.
type Streams struct {
	ClientIn  io.Reader
	ClientOut io.Writer
	ServerIn  io.Reader
	ServerOut io.Writer

	// ServerErr, if non-nil, is passed through to ServerErrOut unparsed
	// (spec.md §1 lists process supervision as out of scope for the core,
	// but stderr passthrough is the natural external-collaborator
	// counterpart to forwarding stdout/stdin, and the original mitm wires
	// it the same way, via a direct std::cerr passthrough).
	ServerErr    io.Reader
	ServerErrOut io.Writer
}

// serialisingObserver wraps a caller-supplied Observer so every callback
// is serialised under the shared Registry pair's mutex, giving the two
// independent pipeline goroutines a total order over their combined
// output (spec.md §5: "the shared IdRegistry and downstream observers
// observe a total order of operations"). That same total order is what
// numbers the sequence index spec.md §3/§9 puts on every TypedMessage.
type serialisingObserver struct {
	pair *jsonrpc.Pair
	next Observer

	seq uint64 // guarded by pair's mutex, not its own
}

func (s *serialisingObserver) OnMessage(tm *jsonrpc.TypedMessage) {
	s.pair.Lock()
	defer s.pair.Unlock()
	s.seq++
	tm.Sequence = s.seq
	s.next.OnMessage(tm)
}

func (s *serialisingObserver) OnFrameError(sender jsonrpc.Sender, err framer.FrameError) {
	s.pair.Lock()
	defer s.pair.Unlock()
	s.next.OnFrameError(sender, err)
}

func (s *serialisingObserver) OnDecodeError(sender jsonrpc.Sender, err *decode.Error) {
	s.pair.Lock()
	defer s.pair.Unlock()
	s.next.OnDecodeError(sender, err)
}

// Assembly runs both directional Pipelines against a shared Correlator
// pair and mirrors raw bytes between the two sides (spec.md §2, §5, §6).
type Assembly struct {
	RunID string

	pair *jsonrpc.Pair

	clientPipeline *Pipeline
	serverPipeline *Pipeline

	streams Streams

	wg sync.WaitGroup
}

// NewAssembly builds an Assembly wired per spec.md §2: two Pipelines
// sharing a linked Registry pair, with Observer calls serialised under
// one mutex so the two directions present a total order downstream.
// charsetAliases is forwarded to both Pipelines' Decoders.
func NewAssembly(streams Streams, hook jsonrpc.MethodHook, charsetAliases map[string]string, observer Observer) *Assembly {
	pair := jsonrpc.NewPair()

	a := &Assembly{
		RunID:   uuid.NewString(),
		pair:    pair,
		streams: streams,
	}

	serialised := &serialisingObserver{pair: pair, next: observer}

	a.clientPipeline = New(jsonrpc.Client, pair.ClientIn, hook, charsetAliases, serialised)
	a.serverPipeline = New(jsonrpc.Server, pair.ServerIn, hook, charsetAliases, serialised)

	return a
}

// Run starts both directions and blocks until both input streams reach
// EOF or error. Forwarding of Client bytes to ServerOut and Server bytes
// to ClientOut happens inline with reading, ahead of parsing, matching
// spec.md §5's forwarding-independence guarantee. Server stderr, if
// configured, is copied line-by-line to ServerErrOut concurrently.
func (a *Assembly) Run() {
	a.wg.Add(2)

	go func() {
		defer a.wg.Done()
		if err := copyLoop(a.streams.ClientIn, a.streams.ServerOut, a.clientPipeline.Feed); err != nil {
			log.WithError(err).WithField("run", a.RunID).Warn("client input stream ended with error")
		}
		a.clientPipeline.Close()
	}()

	go func() {
		defer a.wg.Done()
		if err := copyLoop(a.streams.ServerIn, a.streams.ClientOut, a.serverPipeline.Feed); err != nil {
			log.WithError(err).WithField("run", a.RunID).Warn("server input stream ended with error")
		}
		a.serverPipeline.Close()
	}()

	if a.streams.ServerErr != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.copyStderr()
		}()
	}

	a.wg.Wait()
}

// copyStderr mirrors the server's stderr stream unparsed, matching the
// original mitm's direct passthrough via std::cerr.
func (a *Assembly) copyStderr() {
	scanner := bufio.NewScanner(a.streams.ServerErr)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		if a.streams.ServerErrOut != nil {
			io.WriteString(a.streams.ServerErrOut, scanner.Text()+"\n")
		}
	}
}
