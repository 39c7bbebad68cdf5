package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
	"github.com/printdialog/printdialog/internal/session"
)

// Notifier receives every printer newly added to a dialog's view. It is
// called with the dialog locked.
type Notifier interface {
	NotifyAdded(dialogID string, rec printer.Record)
}

type Options struct {
	// RetryAttempts bounds enumeration attempts per run. Zero means 3.
	RetryAttempts uint
	// RetryDelay is the initial backoff between attempts. Zero means
	// 500ms.
	RetryDelay time.Duration
	Logger     zerolog.Logger
}

// Engine runs one background enumeration per dialog epoch. Each run is
// scoped to the cancel token that was current when it started and stops
// at the next record boundary once that token is cancelled.
type Engine struct {
	ctx      context.Context
	prov     provider.Provider
	notifier Notifier
	opts     Options
	log      zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[*session.CancelToken]struct{}
}

// New returns an engine whose runs also stop when ctx is cancelled.
func New(ctx context.Context, prov provider.Provider, notifier Notifier, opts Options) *Engine {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &Engine{
		ctx:      ctx,
		prov:     prov,
		notifier: notifier,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "discovery").Logger(),
		running:  make(map[*session.CancelToken]struct{}),
	}
}

// Start begins discovery for the dialog's current epoch. Starting an epoch
// that already has a running enumeration is a no-op.
func (e *Engine) Start(d *session.Dialog) {
	e.start(d, d.Token())
}

// Cancel stops the dialog's running enumeration, if any.
func (e *Engine) Cancel(d *session.Dialog) {
	d.Cancel()
}

// Refresh opens a new epoch with an empty view and starts discovery for it.
func (e *Engine) Refresh(d *session.Dialog) {
	e.start(d, d.NewEpoch())
}

// Wait blocks until every started run has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Running reports how many enumerations are in flight.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

func (e *Engine) start(d *session.Dialog, tok *session.CancelToken) {
	if tok.Cancelled() {
		return
	}
	e.mu.Lock()
	if _, ok := e.running[tok]; ok {
		e.mu.Unlock()
		return
	}
	e.running[tok] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.running, tok)
			e.mu.Unlock()
			e.wg.Done()
		}()
		e.run(d, tok)
	}()
}

func (e *Engine) run(d *session.Dialog, tok *session.CancelToken) {
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	go func() {
		select {
		case <-tok.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	filter := d.Filter()
	log := e.log.With().Str("dialog_id", d.ID()).Logger()
	started := time.Now()
	added := 0

	onEach := func(rec printer.Record) bool {
		if tok.Cancelled() {
			return false
		}
		// Providers only use the filter to skip work early.
		if !filter.Keep(rec) {
			return true
		}
		if d.AddIfCurrent(tok, rec, e.notifier.NotifyAdded) {
			added++
		}
		return true
	}

	err := retry.Do(func() error {
		return e.prov.EnumeratePrinters(ctx, tok, filter, onEach)
	},
		retry.Context(ctx),
		retry.Attempts(e.opts.RetryAttempts),
		retry.Delay(e.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !tok.Cancelled() && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("printer enumeration failed, retrying")
		}),
	)

	switch {
	case tok.Cancelled() || errors.Is(err, context.Canceled):
		log.Debug().Int("added", added).Dur("elapsed", time.Since(started)).Msg("discovery cancelled")
	case err != nil:
		log.Error().Err(err).Int("added", added).Msg("printer enumeration gave up")
	default:
		log.Debug().Int("added", added).Dur("elapsed", time.Since(started)).Msg("discovery complete")
	}
}
