package kernel

import "sync"

// ID identifies a kernel object across the syscall boundary. Callers
// never see raw pointers, only these arena indices, matching the
// spec's "arena+id scheme, no raw pointers across the boundary."
type ID uint32

// registry is a generic, monotonic-id, mutex-guarded object table. It
// is the shape every *Table type below shares, grounded on the
// teacher's pattern of a single explicitly-constructed state object
// rather than package-level globals.
type registry[T any] struct {
	mu     sync.RWMutex
	objs   map[ID]T
	nextID ID
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{objs: make(map[ID]T)}
}

func (r *registry[T]) Add(v T) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.objs[id] = v
	return id
}

func (r *registry[T]) Get(id ID) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.objs[id]
	return v, ok
}

func (r *registry[T]) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objs, id)
}

func (r *registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objs)
}

// ProcessTable owns every live Process, keyed by ID.
type ProcessTable struct{ r *registry[*Process] }

func NewProcessTable() *ProcessTable { return &ProcessTable{r: newRegistry[*Process]()} }
func (t *ProcessTable) Add(p *Process) ID {
	id := t.r.Add(p)
	p.ID = id
	return id
}
func (t *ProcessTable) Get(id ID) (*Process, bool) { return t.r.Get(id) }
func (t *ProcessTable) Remove(id ID)               { t.r.Remove(id) }
func (t *ProcessTable) Len() int                   { return t.r.Len() }

// ThreadTable owns every live Thread, keyed by ID.
type ThreadTable struct{ r *registry[*Thread] }

func NewThreadTable() *ThreadTable { return &ThreadTable{r: newRegistry[*Thread]()} }
func (t *ThreadTable) Add(th *Thread) ID {
	id := t.r.Add(th)
	th.ID = id
	return id
}
func (t *ThreadTable) Get(id ID) (*Thread, bool) { return t.r.Get(id) }
func (t *ThreadTable) Remove(id ID)               { t.r.Remove(id) }
func (t *ThreadTable) Len() int                   { return t.r.Len() }

