package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
)

// Broadcaster receives upstream changes mapped to dialog notifications.
type Broadcaster interface {
	BroadcastStateChanged(name string, state printer.State, accepting bool) (delivered, skipped int)
	BroadcastTopologyChanged()
}

type Options struct {
	// LeaseDuration is the lease lifetime the provider grants. Zero means
	// one hour.
	LeaseDuration time.Duration
	// RenewMargin is how long before expiry the lease is renewed. Zero
	// means one minute.
	RenewMargin time.Duration
	// RetryAttempts bounds subscribe and renew attempts per tick. Zero
	// means 3.
	RetryAttempts uint
	RetryDelay    time.Duration
	// CancelTimeout bounds the best-effort cancel on shutdown. Zero means
	// two seconds.
	CancelTimeout time.Duration
	Logger        zerolog.Logger
}

// Status describes the live lease for diagnostics.
type Status struct {
	LeaseID      string    `json:"leaseId,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Renewals     int       `json:"renewals"`
	Resubscribes int       `json:"resubscribes"`
	Events       int       `json:"events"`
}

// Manager keeps exactly one upstream subscription alive for the lifetime
// of the process and feeds its events to the dispatcher.
type Manager struct {
	prov provider.Provider
	bc   Broadcaster
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	lease  provider.Lease
	status Status
}

func New(prov provider.Provider, bc Broadcaster, opts Options) *Manager {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = time.Hour
	}
	if opts.RenewMargin <= 0 {
		opts.RenewMargin = time.Minute
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 2 * time.Second
	}
	return &Manager{
		prov: prov,
		bc:   bc,
		opts: opts,
		log:  opts.Logger.With().Str("component", "subscription").Logger(),
	}
}

// RenewInterval is the period between renewals, strictly shorter than the
// lease duration.
func (m *Manager) RenewInterval() time.Duration {
	interval := m.opts.LeaseDuration - m.opts.RenewMargin
	if interval <= 0 {
		interval = m.opts.LeaseDuration / 2
	}
	return interval
}

// Run subscribes, renews the lease on a ticker and dispatches events until
// ctx is cancelled, then cancels the lease. Subscription failures are
// logged and retried on the next tick; Run only returns when ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.subscribe(ctx); err != nil && ctx.Err() == nil {
		m.log.Error().Err(err).Msg("subscribe failed, retrying on next renewal tick")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.listen(ctx)
	}()

	ticker := time.NewTicker(m.RenewInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			m.Stop()
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.LeaseID = m.lease.ID
	s.Expiry = m.lease.Expiry
	return s
}

// tick renews the live lease, or subscribes again when there is none or
// the provider no longer knows it.
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	id := m.lease.ID
	m.mu.Unlock()

	if id == "" {
		if err := m.subscribe(ctx); err != nil && ctx.Err() == nil {
			m.log.Error().Err(err).Msg("subscribe failed")
		}
		return
	}

	err := m.renew(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrUnknownLease):
		m.log.Warn().Str("lease", id).Msg("lease unknown upstream, subscribing again")
		m.mu.Lock()
		m.lease = provider.Lease{}
		m.status.Resubscribes++
		m.mu.Unlock()
		if err := m.subscribe(ctx); err != nil && ctx.Err() == nil {
			m.log.Error().Err(err).Msg("subscribe failed")
		}
	case ctx.Err() == nil:
		m.log.Error().Err(err).Str("lease", id).Msg("lease renewal failed, will retry")
	}
}

func (m *Manager) subscribe(ctx context.Context) error {
	var lease provider.Lease
	err := retry.Do(func() error {
		var err error
		lease, err = m.prov.Subscribe(ctx)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(m.opts.RetryAttempts),
		retry.Delay(m.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.log.Warn().Err(err).Uint("attempt", n+1).Msg("subscribe failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lease = lease
	m.mu.Unlock()
	m.log.Info().Str("lease", lease.ID).Time("expiry", lease.Expiry).Msg("subscribed to printer notifications")
	return nil
}

func (m *Manager) renew(ctx context.Context, id string) error {
	var lease provider.Lease
	err := retry.Do(func() error {
		var err error
		lease, err = m.prov.Renew(ctx, id)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(m.opts.RetryAttempts),
		retry.Delay(m.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, provider.ErrUnknownLease)
		}),
		retry.OnRetry(func(n uint, err error) {
			m.log.Warn().Err(err).Uint("attempt", n+1).Msg("renew failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lease = lease
	m.status.Renewals++
	m.mu.Unlock()
	m.log.Debug().Str("lease", id).Time("expiry", lease.Expiry).Msg("lease renewed")
	return nil
}

// Stop cancels the live lease. Errors are logged and otherwise ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	id := m.lease.ID
	m.lease = provider.Lease{}
	m.mu.Unlock()
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CancelTimeout)
	defer cancel()
	if err := m.prov.Cancel(ctx, id); err != nil {
		m.log.Debug().Err(err).Str("lease", id).Msg("cancel subscription failed")
		return
	}
	m.log.Info().Str("lease", id).Msg("subscription cancelled")
}

func (m *Manager) listen(ctx context.Context) {
	events := m.prov.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev provider.Event) {
	m.mu.Lock()
	m.status.Events++
	m.mu.Unlock()

	m.log.Debug().Stringer("kind", ev.Kind).Str("printer", ev.Printer).Msg("upstream event")
	switch ev.Kind {
	case provider.EventPrinterAdded, provider.EventPrinterRemoved:
		m.bc.BroadcastTopologyChanged()
	case provider.EventPrinterStateChanged:
		m.bc.BroadcastStateChanged(ev.Printer, ev.State, ev.AcceptingJobs)
	}
}
