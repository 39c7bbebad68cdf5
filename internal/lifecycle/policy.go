package lifecycle

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/session"
)

// Policy decides when dialogs are torn down on disconnect and when the
// backend exits. With exitWhenIdle set, the process shuts down once the
// last dialog is gone.
type Policy struct {
	exitWhenIdle bool
	shutdown     func()
	once         sync.Once
	log          zerolog.Logger
}

// New returns a policy that calls shutdown at most once.
func New(exitWhenIdle bool, shutdown func(), logger zerolog.Logger) *Policy {
	return &Policy{
		exitWhenIdle: exitWhenIdle,
		shutdown:     shutdown,
		log:          logger.With().Str("component", "lifecycle").Logger(),
	}
}

// ShouldRemoveOnDisconnect reports whether a frontend going away removes
// its dialog. Keep-alive dialogs stay until the process exits.
func (p *Policy) ShouldRemoveOnDisconnect(d *session.Dialog) bool {
	return !d.KeepAlive()
}

// Evaluate is called after every removal with the number of dialogs still
// registered. It reports whether shutdown was triggered by this call.
func (p *Policy) Evaluate(remaining int) bool {
	if remaining > 0 || !p.exitWhenIdle {
		return false
	}
	triggered := false
	p.once.Do(func() {
		triggered = true
		p.log.Info().Msg("no frontends connected, exiting")
		if p.shutdown != nil {
			p.shutdown()
		}
	})
	return triggered
}

// OnRemove adapts Evaluate to the registry's removal hook.
func (p *Policy) OnRemove(d *session.Dialog, remaining int) {
	p.log.Debug().Str("dialog_id", d.ID()).Int("remaining", remaining).Msg("dialog removed")
	p.Evaluate(remaining)
}
