// Package cups implements the print-system provider on top of the CUPS
// command line client. Printers are listed with lpstat; change
// notifications are produced by polling lpstat while a subscription lease
// is live and diffing successive snapshots.
package cups

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
)

const (
	eventBuffer     = 64
	healthThreshold = 3
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	return cmd.Output()
}

type Options struct {
	// LpstatPath is the lpstat binary. Empty means "lpstat" from PATH.
	LpstatPath    string
	PollInterval  time.Duration
	LeaseDuration time.Duration
	Logger        zerolog.Logger

	// Run overrides command execution, for tests.
	Run Runner
}

type Provider struct {
	opts Options
	log  zerolog.Logger
	run  Runner

	mu     sync.Mutex
	leases map[string]time.Time
	last   map[string]printer.Record

	events chan provider.Event
	health *provider.Health
	now    func() time.Time
}

func New(opts Options) *Provider {
	if opts.LpstatPath == "" {
		opts.LpstatPath = "lpstat"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = time.Hour
	}
	run := opts.Run
	if run == nil {
		run = execRunner
	}
	return &Provider{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "provider").Str("provider", "cups").Logger(),
		run:    run,
		leases: make(map[string]time.Time),
		events: make(chan provider.Event, eventBuffer),
		health: provider.NewHealth(healthThreshold),
		now:    time.Now,
	}
}

func (p *Provider) Name() string { return "cups" }

func (p *Provider) Health() provider.HealthSnapshot { return p.health.Snapshot() }

// snapshot queries lpstat for every queue and merges state, acceptance
// and device information into records. Names keep lpstat's order.
func (p *Provider) snapshot(ctx context.Context) ([]string, map[string]printer.Record, error) {
	out, err := p.lpstat(ctx, "-l", "-p")
	if err != nil {
		return nil, nil, err
	}
	order, records := parsePrinters(out)
	if len(order) == 0 {
		return nil, records, nil
	}

	accepting, err := p.lpstat(ctx, "-a")
	if err != nil {
		return nil, nil, err
	}
	devices, err := p.lpstat(ctx, "-v")
	if err != nil {
		return nil, nil, err
	}
	acc := parseAccepting(accepting)
	dev := parseDevices(devices)

	for name, rec := range records {
		rec.AcceptingJobs = acc[name]
		rec.Remote, rec.Temporary = classifyDevice(dev[name])
		records[name] = rec.Normalize()
	}
	return order, records, nil
}

func (p *Provider) lpstat(ctx context.Context, args ...string) (string, error) {
	out, err := p.run(ctx, p.opts.LpstatPath, args...)
	if err != nil {
		// lpstat exits non-zero when no destinations exist; treat
		// empty output as an empty listing.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(out) == 0 {
			return "", nil
		}
		return "", fmt.Errorf("lpstat %v: %w", args, err)
	}
	return string(out), nil
}

func (p *Provider) EnumeratePrinters(ctx context.Context, cancel provider.Canceller, keep printer.Filter, onEach func(printer.Record) bool) error {
	order, records, err := p.snapshot(ctx)
	if err != nil {
		p.health.RecordFailure(err)
		return err
	}
	p.health.RecordSuccess()

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cancel.Cancelled() {
			return nil
		}
		rec := records[name]
		if !keep.Keep(rec) {
			continue
		}
		if !onEach(rec) {
			return nil
		}
	}
	return nil
}

func (p *Provider) Printer(ctx context.Context, name string) (printer.Record, error) {
	_, records, err := p.snapshot(ctx)
	if err != nil {
		return printer.Record{}, err
	}
	rec, ok := records[name]
	if !ok {
		return printer.Record{}, fmt.Errorf("%q: %w", name, provider.ErrNotFound)
	}
	return rec, nil
}

func (p *Provider) DefaultPrinter(ctx context.Context) (string, error) {
	out, err := p.lpstat(ctx, "-d")
	if err != nil {
		return "", err
	}
	name := parseDefault(out)
	if name == "" {
		return "", provider.ErrNoDefault
	}
	return name, nil
}

// Subscribe starts a lease. The first subscription primes the poll
// baseline so that only changes made after it are reported.
func (p *Provider) Subscribe(ctx context.Context) (provider.Lease, error) {
	p.mu.Lock()
	primed := p.last != nil
	p.mu.Unlock()

	if !primed {
		_, records, err := p.snapshot(ctx)
		if err != nil {
			return provider.Lease{}, fmt.Errorf("subscribe: %w", err)
		}
		p.mu.Lock()
		p.last = records
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	lease := provider.Lease{ID: uuid.NewString(), Expiry: p.now().Add(p.opts.LeaseDuration)}
	p.leases[lease.ID] = lease.Expiry
	return lease, nil
}

func (p *Provider) Renew(_ context.Context, id string) (provider.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	expiry, ok := p.leases[id]
	if !ok || !p.now().Before(expiry) {
		delete(p.leases, id)
		return provider.Lease{}, fmt.Errorf("renew %s: %w", id, provider.ErrUnknownLease)
	}
	lease := provider.Lease{ID: id, Expiry: p.now().Add(p.opts.LeaseDuration)}
	p.leases[id] = lease.Expiry
	return lease, nil
}

func (p *Provider) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.leases[id]; !ok {
		return fmt.Errorf("cancel %s: %w", id, provider.ErrUnknownLease)
	}
	delete(p.leases, id)
	return nil
}

func (p *Provider) Events() <-chan provider.Event { return p.events }

// Run polls lpstat until ctx is cancelled. Polls are skipped while no
// lease is live.
func (p *Provider) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.opts.PollInterval).Msg("cups poller started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("cups poller stopped")
			return nil
		case <-ticker.C:
			if p.subscribed() {
				p.poll(ctx)
			}
		}
	}
}

func (p *Provider) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.health.RecordFailure(fmt.Errorf("panic during poll: %v", r))
			p.log.Error().Interface("panic", r).Msg("recovered from panic during poll")
		}
		p.logTransition()
	}()

	_, records, err := p.snapshot(ctx)
	if err != nil {
		p.health.RecordFailure(err)
		p.log.Warn().Err(err).Msg("poll failed")
		return
	}
	p.health.RecordSuccess()

	p.mu.Lock()
	prev := p.last
	p.last = records
	p.mu.Unlock()

	for _, ev := range provider.Diff(prev, records, p.now()) {
		select {
		case p.events <- ev:
		default:
			p.log.Warn().Str("printer", ev.Printer).Stringer("kind", ev.Kind).Msg("event buffer full, dropping")
		}
	}
}

func (p *Provider) logTransition() {
	if status, changed := p.health.Transition(); changed {
		p.log.Info().Str("status", string(status)).Msg("provider health changed")
	}
}

func (p *Provider) subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, expiry := range p.leases {
		if now.Before(expiry) {
			return true
		}
	}
	return false
}
