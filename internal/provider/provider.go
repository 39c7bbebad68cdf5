package provider

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/printdialog/printdialog/internal/printer"
)

var (
	// ErrNotFound is returned when a named printer does not exist.
	ErrNotFound = errors.New("printer not found")

	// ErrUnknownLease is returned by Renew and Cancel when the print system
	// no longer knows the lease id, e.g. after it restarted.
	ErrUnknownLease = errors.New("unknown subscription lease")

	// ErrNoDefault is returned by DefaultPrinter when no default is set.
	ErrNoDefault = errors.New("no default printer")
)

// Provider is the boundary to the underlying print system. The dialog
// backend treats it as a black box that can enumerate printers, look up a
// single printer and deliver change notifications through a leased
// subscription.
//
// Implementations must be safe for concurrent use: one enumeration runs
// per active dialog, while the subscription manager renews leases and
// drains Events from its own goroutines.
type Provider interface {
	// Name returns a short lowercase identifier, e.g. "cups" or "static".
	Name() string

	// EnumeratePrinters walks the printers visible to the print system
	// and calls onEach for every record that keep reports as visible.
	// It polls cancel before handling each record and stops early once it
	// is cancelled or onEach returns false. Stopping early is not an
	// error.
	EnumeratePrinters(ctx context.Context, cancel Canceller, keep printer.Filter, onEach func(printer.Record) bool) error

	// Printer returns the current record for name, or ErrNotFound.
	Printer(ctx context.Context, name string) (printer.Record, error)

	// DefaultPrinter returns the name of the default destination, or
	// ErrNoDefault.
	DefaultPrinter(ctx context.Context) (string, error)

	// Subscribe opens a notification subscription. Events are delivered
	// on the Events channel for as long as the lease is live.
	Subscribe(ctx context.Context) (Lease, error)

	// Renew extends the lease identified by id. ErrUnknownLease means
	// the caller must subscribe again.
	Renew(ctx context.Context, id string) (Lease, error)

	// Cancel releases the lease identified by id.
	Cancel(ctx context.Context, id string) error

	// Events returns the channel of upstream change notifications. The
	// channel is shared by all subscribers and is never closed while the
	// provider is in use.
	Events() <-chan Event
}

// Canceller is the polling side of a discovery cancel token.
type Canceller interface {
	Cancelled() bool
}

// Lease identifies a live upstream subscription.
type Lease struct {
	ID     string
	Expiry time.Time
}

// Live reports whether the lease has an id and has not expired at now.
func (l Lease) Live(now time.Time) bool {
	return l.ID != "" && now.Before(l.Expiry)
}

// EventKind classifies an upstream notification.
type EventKind int

const (
	EventPrinterAdded EventKind = iota
	EventPrinterRemoved
	EventPrinterStateChanged
)

var eventKindNames = map[EventKind]string{
	EventPrinterAdded:        "printer-added",
	EventPrinterRemoved:      "printer-deleted",
	EventPrinterStateChanged: "printer-state-changed",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one upstream notification. State and AcceptingJobs are only
// meaningful for EventPrinterStateChanged.
type Event struct {
	Kind          EventKind
	Printer       string
	State         printer.State
	AcceptingJobs bool
	At            time.Time
}

// Diff compares two snapshots keyed by printer name and returns the
// notifications that turn prev into next: removals first, then additions,
// then state changes, each sorted by name.
func Diff(prev, next map[string]printer.Record, at time.Time) []Event {
	var removed, added, changed []Event
	for name := range prev {
		if _, ok := next[name]; !ok {
			removed = append(removed, Event{Kind: EventPrinterRemoved, Printer: name, At: at})
		}
	}
	for name, rec := range next {
		old, ok := prev[name]
		if !ok {
			added = append(added, Event{Kind: EventPrinterAdded, Printer: name, At: at})
			continue
		}
		if old.State != rec.State || old.AcceptingJobs != rec.AcceptingJobs {
			changed = append(changed, Event{
				Kind:          EventPrinterStateChanged,
				Printer:       name,
				State:         rec.State,
				AcceptingJobs: rec.AcceptingJobs,
				At:            at,
			})
		}
	}
	sortEvents(removed)
	sortEvents(added)
	sortEvents(changed)

	events := make([]Event, 0, len(removed)+len(added)+len(changed))
	events = append(events, removed...)
	events = append(events, added...)
	return append(events, changed...)
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Printer < events[j].Printer })
}
