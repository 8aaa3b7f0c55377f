package jsonmessenger

import (
	"fmt"
	"sync"
)

// ConnID is a generation-checked handle to a registered connection. Slots are
// reused after a disconnect with a new generation, so a stale ConnID never
// resolves to a later connection. The zero ConnID is never issued.
type ConnID struct {
	index uint32
	gen   uint32
}

func (id ConnID) String() string {
	return fmt.Sprintf("%d.%d", id.index, id.gen)
}

// MarshalText encodes id in its String form.
func (id ConnID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// IsZero reports whether id is the zero handle.
func (id ConnID) IsZero() bool {
	return id.gen == 0
}

type slot struct {
	gen     uint32
	session *Session
}

// Registry maps connection handles to their sessions. It is the single source
// of truth for whether a connection is still known.
//
// The registry lock covers only insertion and removal; message processing
// runs under each session's own lock.
type Registry struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	count int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers s and assigns its handle.
func (r *Registry) Add(s *Session) ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	sl := &r.slots[index]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.session = s

	id := ConnID{index: index, gen: sl.gen}
	s.id = id
	r.count++
	return id
}

// Remove unregisters id. Only the first call for a given handle returns the
// session and true; later calls are no-ops.
func (r *Registry) Remove(id ConnID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sl := r.get(id)
	if sl == nil {
		return nil, false
	}
	s := sl.session
	sl.session = nil
	r.free = append(r.free, id.index)
	r.count--
	return s, true
}

// Lookup returns the session registered under id, or ErrUnknownConnection.
func (r *Registry) Lookup(id ConnID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sl := r.get(id)
	if sl == nil {
		return nil, ErrUnknownConnection
	}
	return sl.session, nil
}

// Sessions returns a snapshot of the registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, r.count)
	for i := range r.slots {
		if s := r.slots[i].session; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// get must be called with r.mu held.
func (r *Registry) get(id ConnID) *slot {
	if id.IsZero() || int(id.index) >= len(r.slots) {
		return nil
	}
	sl := &r.slots[id.index]
	if sl.gen != id.gen || sl.session == nil {
		return nil
	}
	return sl
}
