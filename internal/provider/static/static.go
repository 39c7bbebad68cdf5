// Package static implements a print-system provider backed by a YAML file of
// printer declarations. Edits to the file are picked up through fsnotify and
// turned into upstream notifications, which makes it the provider of choice
// for development, demos and integration tests.
package static

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
)

const eventBuffer = 64

// File is the on-disk layout of a printers file.
type File struct {
	Default  string           `yaml:"default"`
	Printers []printer.Record `yaml:"printers"`
}

// LoadFile reads and decodes a printers file. Records are normalised and
// duplicate names are rejected.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading printers file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing printers file: %w", err)
	}
	seen := make(map[string]bool, len(f.Printers))
	for i := range f.Printers {
		if f.Printers[i].Name == "" {
			return nil, fmt.Errorf("printers[%d]: name is required", i)
		}
		if seen[f.Printers[i].Name] {
			return nil, fmt.Errorf("printers[%d]: duplicate name %q", i, f.Printers[i].Name)
		}
		seen[f.Printers[i].Name] = true
		f.Printers[i] = f.Printers[i].Normalize()
	}
	return &f, nil
}

// Options configures a Provider.
type Options struct {
	// Path of the printers file. Empty means the provider starts with the
	// records passed to New and is never reloaded.
	Path string

	// ChurnInterval, when positive, makes Run flip the state of a random
	// printer on every tick.
	ChurnInterval time.Duration

	// LeaseDuration is the lifetime granted to subscriptions. Zero means
	// one hour.
	LeaseDuration time.Duration

	// EnumerateDelay is slept before every record handed to onEach,
	// simulating a slow print system.
	EnumerateDelay time.Duration

	Logger zerolog.Logger
}

// Provider serves printers from memory. All methods are safe for
// concurrent use.
type Provider struct {
	opts Options
	log  zerolog.Logger

	mu          sync.RWMutex
	order       []string
	printers    map[string]printer.Record
	defaultName string
	leases      map[string]time.Time

	events chan provider.Event
	health *provider.Health
	rng    *rand.Rand
	now    func() time.Time
}

// New returns a provider seeded with records.
func New(opts Options, defaultName string, records ...printer.Record) *Provider {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = time.Hour
	}
	p := &Provider{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "provider").Str("provider", "static").Logger(),
		printers: make(map[string]printer.Record),
		leases:   make(map[string]time.Time),
		events:   make(chan provider.Event, eventBuffer),
		health:   provider.NewHealth(3),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	p.replaceLocked(defaultName, records)
	return p
}

// Open loads opts.Path and returns a provider serving its contents.
func Open(opts Options) (*Provider, error) {
	f, err := LoadFile(opts.Path)
	if err != nil {
		return nil, err
	}
	return New(opts, f.Default, f.Printers...), nil
}

func (p *Provider) Name() string { return "static" }

func (p *Provider) Health() provider.HealthSnapshot { return p.health.Snapshot() }

func (p *Provider) EnumeratePrinters(ctx context.Context, cancel provider.Canceller, keep printer.Filter, onEach func(printer.Record) bool) error {
	for _, rec := range p.snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.opts.EnumerateDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opts.EnumerateDelay):
			}
		}
		if cancel.Cancelled() {
			return nil
		}
		if !keep.Keep(rec) {
			continue
		}
		if !onEach(rec) {
			return nil
		}
	}
	return nil
}

func (p *Provider) Printer(_ context.Context, name string) (printer.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.printers[name]
	if !ok {
		return printer.Record{}, fmt.Errorf("%q: %w", name, provider.ErrNotFound)
	}
	return rec, nil
}

func (p *Provider) DefaultPrinter(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.defaultName == "" {
		return "", provider.ErrNoDefault
	}
	return p.defaultName, nil
}

func (p *Provider) Subscribe(context.Context) (provider.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lease := provider.Lease{ID: uuid.NewString(), Expiry: p.now().Add(p.opts.LeaseDuration)}
	p.leases[lease.ID] = lease.Expiry
	p.log.Debug().Str("lease", lease.ID).Time("expiry", lease.Expiry).Msg("subscription created")
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

// Replace swaps the whole printer set and emits the resulting added,
// removed and state-changed notifications.
func (p *Provider) Replace(defaultName string, records []printer.Record) {
	p.mu.Lock()
	prev := p.printers
	p.replaceLocked(defaultName, records)
	events := provider.Diff(prev, p.printers, p.now())
	p.mu.Unlock()

	p.publish(events)
}

// Add inserts or overwrites a single printer.
func (p *Provider) Add(rec printer.Record) {
	rec = rec.Normalize()
	p.mu.Lock()
	prev := p.printers
	next := make(map[string]printer.Record, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	if _, ok := prev[rec.Name]; !ok {
		p.order = append(p.order, rec.Name)
	}
	next[rec.Name] = rec
	p.printers = next
	events := provider.Diff(prev, next, p.now())
	p.mu.Unlock()

	p.publish(events)
}

// Remove deletes a printer. Removing an unknown name is a no-op.
func (p *Provider) Remove(name string) {
	p.mu.Lock()
	if _, ok := p.printers[name]; !ok {
		p.mu.Unlock()
		return
	}
	prev := p.printers
	next := make(map[string]printer.Record, len(prev))
	for k, v := range prev {
		if k != name {
			next[k] = v
		}
	}
	order := p.order[:0:0]
	for _, n := range p.order {
		if n != name {
			order = append(order, n)
		}
	}
	p.printers, p.order = next, order
	if p.defaultName == name {
		p.defaultName = ""
	}
	events := provider.Diff(prev, next, p.now())
	p.mu.Unlock()

	p.publish(events)
}

// SetState changes a printer's state. It reports false for unknown names.
func (p *Provider) SetState(name string, state printer.State, accepting bool) bool {
	p.mu.Lock()
	rec, ok := p.printers[name]
	if !ok {
		p.mu.Unlock()
		return false
	}
	prev := p.printers
	next := make(map[string]printer.Record, len(prev))
	for k, v := range prev {
		next[k] = v
	}
	rec.State = state
	rec.AcceptingJobs = accepting
	next[name] = rec
	p.printers = next
	events := provider.Diff(prev, next, p.now())
	p.mu.Unlock()

	p.publish(events)
	return true
}

// Run watches the printers file and drives churn until ctx is cancelled.
func (p *Provider) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if p.opts.ChurnInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.churn(ctx)
		}()
	}

	var err error
	if p.opts.Path != "" {
		err = p.watch(ctx)
	} else {
		<-ctx.Done()
	}
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Reload re-reads the printers file and applies it.
func (p *Provider) Reload() error {
	f, err := LoadFile(p.opts.Path)
	if err != nil {
		p.health.RecordFailure(err)
		p.logTransition()
		return err
	}
	p.health.RecordSuccess()
	p.logTransition()
	p.Replace(f.Default, f.Printers)
	return nil
}

func (p *Provider) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace the file rather than writing in place, so watch the
	// directory and match on the file name.
	target := filepath.Clean(p.opts.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	p.log.Info().Str("path", target).Msg("watching printers file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			p.log.Debug().Str("op", ev.Op.String()).Str("file", ev.Name).Msg("printers file changed")
			if err := p.Reload(); err != nil {
				p.log.Warn().Err(err).Msg("reload failed, keeping previous printers")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

var churnStates = []printer.State{printer.Idle, printer.Processing, printer.Stopped}

func (p *Provider) churn(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ChurnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.churnOnce()
		}
	}
}

// churnOnce moves one random printer to a different state. Stopped
// printers stop accepting jobs.
func (p *Provider) churnOnce() {
	p.mu.RLock()
	if len(p.order) == 0 {
		p.mu.RUnlock()
		return
	}
	name := p.order[p.rng.Intn(len(p.order))]
	current := p.printers[name].State
	p.mu.RUnlock()

	next := churnStates[p.rng.Intn(len(churnStates))]
	if next == current {
		next = churnStates[(int(next)+1)%len(churnStates)]
	}
	p.SetState(name, next, next != printer.Stopped)
}

func (p *Provider) logTransition() {
	if status, changed := p.health.Transition(); changed {
		p.log.Info().Str("status", string(status)).Msg("provider health changed")
	}
}

// publish delivers events when at least one lease is live. A full buffer
// drops the event rather than blocking the caller.
func (p *Provider) publish(events []provider.Event) {
	if len(events) == 0 || !p.subscribed() {
		return
	}
	for _, ev := range events {
		select {
		case p.events <- ev:
		default:
			p.log.Warn().Str("printer", ev.Printer).Stringer("kind", ev.Kind).Msg("event buffer full, dropping")
		}
	}
}

func (p *Provider) subscribed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.now()
	for _, expiry := range p.leases {
		if now.Before(expiry) {
			return true
		}
	}
	return false
}

func (p *Provider) snapshot() []printer.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]printer.Record, 0, len(p.order))
	for _, name := range p.order {
		result = append(result, p.printers[name])
	}
	return result
}

// replaceLocked installs records in file order. Caller must hold p.mu or
// own p exclusively.
func (p *Provider) replaceLocked(defaultName string, records []printer.Record) {
	printers := make(map[string]printer.Record, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		rec = rec.Normalize()
		if _, dup := printers[rec.Name]; !dup {
			order = append(order, rec.Name)
		}
		printers[rec.Name] = rec
	}
	p.printers, p.order, p.defaultName = printers, order, defaultName
}
