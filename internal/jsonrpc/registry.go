package jsonrpc

import "sync"

// Registry tracks outstanding Requests for one direction, keyed by Id
// (spec.md §4.5). Two Registries are linked so that insertion writes to
// the registry's own maps while lookup for a matching Response reads the
// linked peer's maps — a Request emitted on the Client side is matched by
// a Response on the Server side, and vice versa.
//
// A Registry pair is the only state shared between the two pipeline
// directions; all access is serialised through the mutex embedded in the
// pair (see Pair).
type Registry struct {
	byString map[string]*Request
	byNumber map[int64]*Request

	peer *Registry

	// mu is the owning Pair's mutex when the Registry was made by NewPair;
	// it guards the maps of both linked registries.
	mu *sync.Mutex
}

// NewRegistry returns an empty, unlinked Registry.
func NewRegistry() *Registry {
	return &Registry{
		byString: make(map[string]*Request),
		byNumber: make(map[int64]*Request),
	}
}

// LinkWith establishes mutual peer references between two registries.
func (r *Registry) LinkWith(other *Registry) {
	r.peer = other
	other.peer = r
}

// InsertRequest places req into this registry's own maps at id, returning
// the previously-registered Request at that id, if any (a duplicate-Id
// shadow).
func (r *Registry) InsertRequest(id Id, req *Request) (previous *Request) {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	switch {
	case id.IsString():
		previous = r.byString[id.String()]
		r.byString[id.String()] = req
	case id.IsNumber():
		previous = r.byNumber[id.Number()]
		r.byNumber[id.Number()] = req
	}
	return previous
}

// RetrieveForResponse removes and returns the Request registered at id in
// the peer registry, or nil if none is registered.
func (r *Registry) RetrieveForResponse(id Id) *Request {
	if r.peer == nil {
		return nil
	}
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	switch {
	case id.IsString():
		req, ok := r.peer.byString[id.String()]
		if !ok {
			return nil
		}
		delete(r.peer.byString, id.String())
		return req
	case id.IsNumber():
		req, ok := r.peer.byNumber[id.Number()]
		if !ok {
			return nil
		}
		delete(r.peer.byNumber, id.Number())
		return req
	default:
		return nil
	}
}

// Pair bundles two linked Registries with the mutex that serialises all
// access to them, matching spec.md §5's "single shared mutable state is
// the linked IdRegistry pair" concurrency model.
type Pair struct {
	mu       sync.Mutex
	ClientIn *Registry // requests seen travelling Client -> Server
	ServerIn *Registry // requests seen travelling Server -> Client
}

// NewPair returns a linked Registry pair ready to be shared between two
// Pipelines running on independent goroutines.
func NewPair() *Pair {
	clientIn := NewRegistry()
	serverIn := NewRegistry()
	clientIn.LinkWith(serverIn)
	p := &Pair{ClientIn: clientIn, ServerIn: serverIn}
	clientIn.mu = &p.mu
	serverIn.mu = &p.mu
	return p
}

// Lock acquires the pair's mutex. Callers must Unlock before returning.
func (p *Pair) Lock() { p.mu.Lock() }

// Unlock releases the pair's mutex.
func (p *Pair) Unlock() { p.mu.Unlock() }
