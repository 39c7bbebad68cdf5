package session

import (
	"sync"
	"time"

	"github.com/printdialog/printdialog/internal/printer"
)

// EmitFunc delivers one notification for the dialog identified by id.
// It is called with the dialog locked, so it must not block or call back
// into the dialog.
type EmitFunc func(id string, rec printer.Record)

// Dialog is the server-side state of one frontend: its identity, filter
// flags, keep-alive pin, the cancel token of the running discovery epoch
// and the printers reported so far.
type Dialog struct {
	mu            sync.Mutex
	id            string
	hideRemote    bool
	hideTemporary bool
	keepAlive     bool
	pid           int32
	token         *CancelToken
	view          *PrinterView
	createdAt     time.Time
}

func newDialog(id string, now time.Time) *Dialog {
	return &Dialog{
		id:        id,
		token:     NewCancelToken(),
		view:      NewPrinterView(),
		createdAt: now,
	}
}

func (d *Dialog) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *Dialog) setID(id string) {
	d.mu.Lock()
	d.id = id
	d.mu.Unlock()
}

// Filter returns the dialog's current visibility predicate.
func (d *Dialog) Filter() printer.Filter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return printer.Filter{HideRemote: d.hideRemote, HideTemporary: d.hideTemporary}
}

// SetHideRemote updates the flag and reports whether it changed.
func (d *Dialog) SetHideRemote(hide bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hideRemote == hide {
		return false
	}
	d.hideRemote = hide
	return true
}

// SetHideTemporary updates the flag and reports whether it changed.
func (d *Dialog) SetHideTemporary(hide bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hideTemporary == hide {
		return false
	}
	d.hideTemporary = hide
	return true
}

func (d *Dialog) KeepAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keepAlive
}

func (d *Dialog) SetKeepAlive() {
	d.mu.Lock()
	d.keepAlive = true
	d.mu.Unlock()
}

// PID is the frontend process id, 0 when the frontend never reported one.
func (d *Dialog) PID() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pid
}

func (d *Dialog) SetPID(pid int32) {
	d.mu.Lock()
	d.pid = pid
	d.mu.Unlock()
}

// Token returns the cancel token of the current discovery epoch.
func (d *Dialog) Token() *CancelToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

func (d *Dialog) View() *PrinterView {
	return d.view
}

// Cancel cancels the current discovery epoch.
func (d *Dialog) Cancel() {
	d.Token().Cancel()
}

// NewEpoch cancels the running epoch, clears the view and installs a fresh
// token, which is returned.
func (d *Dialog) NewEpoch() *CancelToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.token.Cancel()
	d.token = NewCancelToken()
	d.view.Reset()
	return d.token
}

// AddIfCurrent adds rec to the view when tok is still the dialog's live
// token. emit runs under the dialog lock only for names that were new, so
// an added notification is ordered before any state change for the same
// printer.
func (d *Dialog) AddIfCurrent(tok *CancelToken, rec printer.Record, emit EmitFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tok != d.token || tok.Cancelled() {
		return false
	}
	if !d.view.Add(rec) {
		return false
	}
	if emit != nil {
		emit(d.id, rec)
	}
	return true
}

// UpdateIfKnown applies a state change to a printer the dialog has already
// been told about. Dialogs that never received the printer are skipped and
// false is returned.
func (d *Dialog) UpdateIfKnown(name string, state printer.State, accepting bool, emit EmitFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.view.UpdateState(name, state, accepting) {
		return false
	}
	if emit != nil {
		rec, _ := d.view.Get(name)
		emit(d.id, rec)
	}
	return true
}

// Info is a point-in-time description of a dialog for diagnostics.
type Info struct {
	ID            string    `json:"id"`
	HideRemote    bool      `json:"hideRemote"`
	HideTemporary bool      `json:"hideTemporary"`
	KeepAlive     bool      `json:"keepAlive"`
	PID           int32     `json:"pid,omitempty"`
	Printers      []string  `json:"printers"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (d *Dialog) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		ID:            d.id,
		HideRemote:    d.hideRemote,
		HideTemporary: d.hideTemporary,
		KeepAlive:     d.keepAlive,
		PID:           d.pid,
		Printers:      d.view.Names(),
		CreatedAt:     d.createdAt,
	}
}
