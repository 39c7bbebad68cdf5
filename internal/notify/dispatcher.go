package notify

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/session"
)

// Emitter delivers outbound signals to the frontend that owns a dialog.
// Both methods are called with the dialog locked so that an added signal
// is never overtaken by a state change for the same printer.
// Implementations may wait for queue room but must give up after a
// bounded time.
type Emitter interface {
	PrinterAdded(dialogID string, rec printer.Record) error
	PrinterStateChanged(dialogID string, rec printer.Record) error
}

// Refresher restarts discovery for a dialog from a clean view.
type Refresher interface {
	Refresh(d *session.Dialog)
}

// Stats counts signals since startup.
type Stats struct {
	Added        int64 `json:"added"`
	StateChanged int64 `json:"stateChanged"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	Refreshes    int64 `json:"refreshes"`
}

// Dispatcher routes printer notifications to dialogs. Added signals go to
// the single dialog whose discovery found the printer; state changes fan
// out to every dialog that has already been told about the printer;
// topology changes restart discovery everywhere.
type Dispatcher struct {
	registry  *session.Registry
	emitter   Emitter
	refresher Refresher
	log       zerolog.Logger

	added        atomic.Int64
	stateChanged atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
	refreshes    atomic.Int64
}

func New(registry *session.Registry, emitter Emitter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		emitter:  emitter,
		log:      logger.With().Str("component", "notify").Logger(),
	}
}

// SetRefresher installs the discovery engine used for topology changes.
// Must be called before the dispatcher is shared.
func (d *Dispatcher) SetRefresher(r Refresher) {
	d.refresher = r
}

// NotifyAdded emits printer_added to one dialog. It has the shape of a
// session.EmitFunc and is called with that dialog locked.
func (d *Dispatcher) NotifyAdded(dialogID string, rec printer.Record) {
	if err := d.emitter.PrinterAdded(dialogID, rec); err != nil {
		d.failed.Add(1)
		d.log.Debug().Err(err).Str("dialog_id", dialogID).Str("printer", rec.Name).Msg("printer_added not delivered")
		return
	}
	d.added.Add(1)
}

func (d *Dispatcher) notifyStateChanged(dialogID string, rec printer.Record) {
	if err := d.emitter.PrinterStateChanged(dialogID, rec); err != nil {
		d.failed.Add(1)
		d.log.Debug().Err(err).Str("dialog_id", dialogID).Str("printer", rec.Name).Msg("printer_state_changed not delivered")
		return
	}
	d.stateChanged.Add(1)
}

// BroadcastStateChanged delivers a state change to every live dialog that
// already received printer_added for name. It returns how many dialogs
// were signalled and how many were skipped.
func (d *Dispatcher) BroadcastStateChanged(name string, state printer.State, accepting bool) (delivered, skipped int) {
	d.registry.ForEach(func(dlg *session.Dialog) {
		if dlg.UpdateIfKnown(name, state, accepting, d.notifyStateChanged) {
			delivered++
			return
		}
		skipped++
	})
	d.skipped.Add(int64(skipped))
	d.log.Debug().
		Str("printer", name).
		Stringer("state", state).
		Bool("accepting_jobs", accepting).
		Int("delivered", delivered).
		Int("skipped", skipped).
		Msg("state change broadcast")
	return delivered, skipped
}

// BroadcastTopologyChanged restarts discovery for every live dialog.
func (d *Dispatcher) BroadcastTopologyChanged() {
	if d.refresher == nil {
		return
	}
	n := 0
	d.registry.ForEach(func(dlg *session.Dialog) {
		d.refresher.Refresh(dlg)
		n++
	})
	d.refreshes.Add(int64(n))
	d.log.Debug().Int("dialogs", n).Msg("printer list changed, refreshing dialogs")
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Added:        d.added.Load(),
		StateChanged: d.stateChanged.Load(),
		Skipped:      d.skipped.Load(),
		Failed:       d.failed.Load(),
		Refreshes:    d.refreshes.Load(),
	}
}
