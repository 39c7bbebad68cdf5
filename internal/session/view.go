package session

import (
	"sort"
	"sync"

	"github.com/printdialog/printdialog/internal/printer"
)

// PrinterView is the set of printers already reported to one dialog in the
// current discovery epoch, with the last record seen for each.
type PrinterView struct {
	mu    sync.RWMutex
	known map[string]printer.Record
}

func NewPrinterView() *PrinterView {
	return &PrinterView{known: make(map[string]printer.Record)}
}

// Add records rec and reports whether its name was new. Adding a name that
// is already known leaves the view untouched.
func (v *PrinterView) Add(rec printer.Record) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.known[rec.Name]; ok {
		return false
	}
	v.known[rec.Name] = rec
	return true
}

func (v *PrinterView) Contains(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.known[name]
	return ok
}

func (v *PrinterView) Get(name string) (printer.Record, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.known[name]
	return rec, ok
}

// UpdateState refreshes the cached state of a known printer. Unknown names
// are ignored and reported as false.
func (v *PrinterView) UpdateState(name string, state printer.State, accepting bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.known[name]
	if !ok {
		return false
	}
	rec.State = state
	rec.AcceptingJobs = accepting
	v.known[name] = rec
	return true
}

func (v *PrinterView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.known)
}

// Names returns the known printer names sorted.
func (v *PrinterView) Names() []string {
	v.mu.RLock()
	names := make([]string, 0, len(v.known))
	for name := range v.known {
		names = append(names, name)
	}
	v.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Records returns copies of the known records sorted by name.
func (v *PrinterView) Records() []printer.Record {
	v.mu.RLock()
	result := make([]printer.Record, 0, len(v.known))
	for _, rec := range v.known {
		result = append(result, rec)
	}
	v.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (v *PrinterView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.known = make(map[string]printer.Record)
}
