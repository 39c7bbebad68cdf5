package session

import (
	"sort"
	"sync"
	"time"
)

// RemoveHook is called after a dialog left the registry, outside the
// registry lock, with the number of dialogs still registered.
type RemoveHook func(d *Dialog, remaining int)

// Registry is the table of live dialogs keyed by frontend identity. All
// access to the mapping goes through its methods.
type Registry struct {
	mu       sync.RWMutex
	dialogs  map[string]*Dialog
	onRemove RemoveHook
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		dialogs: make(map[string]*Dialog),
		now:     time.Now,
	}
}

// OnRemove installs the hook run after every removal. Must be called
// before the registry is shared.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.onRemove = hook
}

// GetOrCreate returns the dialog for id, creating it when the identity has
// not been seen before. The second result reports whether it was created.
func (r *Registry) GetOrCreate(id string) (*Dialog, bool) {
	r.mu.RLock()
	d, ok := r.dialogs[id]
	r.mu.RUnlock()
	if ok {
		return d, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dialogs[id]; ok {
		return d, false
	}
	d = newDialog(id, r.now())
	r.dialogs[id] = d
	return d, true
}

func (r *Registry) Find(id string) (*Dialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialogs[id]
	return d, ok
}

// Replace moves the dialog registered under oldID to newID in one step.
// A dialog already registered under newID is dropped and its discovery
// cancelled. Returns false when oldID is unknown.
func (r *Registry) Replace(oldID, newID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dialogs[oldID]
	if !ok {
		return false
	}
	if oldID == newID {
		return true
	}
	if existing, ok := r.dialogs[newID]; ok && existing != d {
		existing.Cancel()
	}
	delete(r.dialogs, oldID)
	r.dialogs[newID] = d
	d.setID(newID)
	return true
}

// Remove cancels the dialog's discovery and deletes it. The remove hook
// runs whenever a dialog was actually removed.
func (r *Registry) Remove(id string) (*Dialog, bool) {
	r.mu.Lock()
	d, ok := r.dialogs[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	d.Cancel()
	delete(r.dialogs, id)
	remaining := len(r.dialogs)
	hook := r.onRemove
	r.mu.Unlock()

	if hook != nil {
		hook(d, remaining)
	}
	return d, true
}

// ForEach calls fn for every dialog in a snapshot of the registry. fn runs
// without the registry lock held and may call back into the registry.
func (r *Registry) ForEach(fn func(d *Dialog)) {
	for _, d := range r.list() {
		fn(d)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dialogs)
}

// Snapshot describes every dialog, sorted by id.
func (r *Registry) Snapshot() []Info {
	dialogs := r.list()
	result := make([]Info, 0, len(dialogs))
	for _, d := range dialogs {
		result = append(result, d.Info())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *Registry) list() []*Dialog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Dialog, 0, len(r.dialogs))
	for _, d := range r.dialogs {
		result = append(result, d)
	}
	return result
}
