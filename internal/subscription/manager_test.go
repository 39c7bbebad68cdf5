package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
)

type fakeProvider struct {
	mu           sync.Mutex
	seq          int
	subscribes   int
	renews       int
	cancels      []string
	subscribeErr error
	renewErrs    []error
	events       chan provider.Event
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan provider.Event, 8)}
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) EnumeratePrinters(context.Context, provider.Canceller, printer.Filter, func(printer.Record) bool) error {
	return nil
}
func (f *fakeProvider) Printer(context.Context, string) (printer.Record, error) {
	return printer.Record{}, provider.ErrNotFound
}
func (f *fakeProvider) DefaultPrinter(context.Context) (string, error) { return "", provider.ErrNoDefault }

func (f *fakeProvider) Subscribe(context.Context) (provider.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return provider.Lease{}, f.subscribeErr
	}
	f.seq++
	return provider.Lease{ID: fmt.Sprintf("lease-%d", f.seq), Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) Renew(_ context.Context, id string) (provider.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	if len(f.renewErrs) > 0 {
		err := f.renewErrs[0]
		f.renewErrs = f.renewErrs[1:]
		if err != nil {
			return provider.Lease{}, err
		}
	}
	return provider.Lease{ID: id, Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return nil
}

func (f *fakeProvider) Events() <-chan provider.Event { return f.events }

type fakeBroadcaster struct {
	mu       sync.Mutex
	topology int
	states   []provider.Event
}

func (b *fakeBroadcaster) BroadcastStateChanged(name string, state printer.State, accepting bool) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, provider.Event{Printer: name, State: state, AcceptingJobs: accepting})
	return 1, 0
}

func (b *fakeBroadcaster) BroadcastTopologyChanged() {
	b.mu.Lock()
	b.topology++
	b.mu.Unlock()
}

func (b *fakeBroadcaster) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topology, len(b.states)
}

func testOptions() Options {
	return Options{RetryDelay: time.Millisecond, Logger: zerolog.Nop()}
}

func TestRenewInterval(t *testing.T) {
	tests := []struct {
		name   string
		lease  time.Duration
		margin time.Duration
		want   time.Duration
	}{
		{"defaults", 0, 0, time.Hour - time.Minute},
		{"custom", 10 * time.Minute, 30 * time.Second, 9*time.Minute + 30*time.Second},
		{"margin too large", time.Minute, 2 * time.Minute, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.LeaseDuration = tt.lease
			opts.RenewMargin = tt.margin
			m := New(newFakeProvider(), &fakeBroadcaster{}, opts)
			got := m.RenewInterval()
			assert.Equal(t, tt.want, got)
			assert.Less(t, got, m.opts.LeaseDuration)
		})
	}
}

func TestTickRenews(t *testing.T) {
	prov := newFakeProvider()
	m := New(prov, &fakeBroadcaster{}, testOptions())
	ctx := context.Background()

	require.NoError(t, m.subscribe(ctx))
	m.tick(ctx)
	m.tick(ctx)

	st := m.Status()
	assert.Equal(t, "lease-1", st.LeaseID)
	assert.Equal(t, 2, st.Renewals)
	assert.Equal(t, 1, prov.subscribes)
}

func TestTickRetriesTransientRenewFailure(t *testing.T) {
	prov := newFakeProvider()
	prov.renewErrs = []error{errors.New("timeout"), nil}
	m := New(prov, &fakeBroadcaster{}, testOptions())
	ctx := context.Background()

	require.NoError(t, m.subscribe(ctx))
	m.tick(ctx)

	assert.Equal(t, 2, prov.renews)
	assert.Equal(t, 1, m.Status().Renewals)
	assert.Equal(t, "lease-1", m.Status().LeaseID)
}

func TestTickKeepsLeaseAfterExhaustedRetries(t *testing.T) {
	prov := newFakeProvider()
	boom := errors.New("cups unreachable")
	prov.renewErrs = []error{boom, boom, boom}
	m := New(prov, &fakeBroadcaster{}, testOptions())
	ctx := context.Background()

	require.NoError(t, m.subscribe(ctx))
	m.tick(ctx)
	assert.Equal(t, "lease-1", m.Status().LeaseID, "renewal failure is not fatal")

	m.tick(ctx)
	assert.Equal(t, 1, m.Status().Renewals)
}

func TestTickResubscribesOnUnknownLease(t *testing.T) {
	prov := newFakeProvider()
	prov.renewErrs = []error{fmt.Errorf("renew: %w", provider.ErrUnknownLease)}
	m := New(prov, &fakeBroadcaster{}, testOptions())
	ctx := context.Background()

	require.NoError(t, m.subscribe(ctx))
	m.tick(ctx)

	st := m.Status()
	assert.Equal(t, 1, prov.renews, "unknown lease is not retried")
	assert.Equal(t, "lease-2", st.LeaseID)
	assert.Equal(t, 1, st.Resubscribes)
}

func TestTickSubscribesWhenNoLease(t *testing.T) {
	prov := newFakeProvider()
	prov.subscribeErr = errors.New("down")
	m := New(prov, &fakeBroadcaster{}, testOptions())
	ctx := context.Background()

	assert.Error(t, m.subscribe(ctx))
	assert.Empty(t, m.Status().LeaseID)

	prov.mu.Lock()
	prov.subscribeErr = nil
	prov.mu.Unlock()
	m.tick(ctx)

	assert.Equal(t, "lease-1", m.Status().LeaseID)
}

func TestStopCancelsLease(t *testing.T) {
	prov := newFakeProvider()
	m := New(prov, &fakeBroadcaster{}, testOptions())
	require.NoError(t, m.subscribe(context.Background()))

	m.Stop()
	m.Stop()

	assert.Equal(t, []string{"lease-1"}, prov.cancels)
	assert.Empty(t, m.Status().LeaseID)
}

func TestHandleMapsEvents(t *testing.T) {
	bc := &fakeBroadcaster{}
	m := New(newFakeProvider(), bc, testOptions())

	m.handle(provider.Event{Kind: provider.EventPrinterAdded, Printer: "a"})
	m.handle(provider.Event{Kind: provider.EventPrinterRemoved, Printer: "b"})
	m.handle(provider.Event{Kind: provider.EventPrinterStateChanged, Printer: "c", State: printer.Stopped})

	topology, states := bc.counts()
	assert.Equal(t, 2, topology)
	assert.Equal(t, 1, states)
	assert.Equal(t, "c", bc.states[0].Printer)
	assert.Equal(t, printer.Stopped, bc.states[0].State)
	assert.Equal(t, 3, m.Status().Events)
}

func TestRunLifecycle(t *testing.T) {
	prov := newFakeProvider()
	bc := &fakeBroadcaster{}
	opts := testOptions()
	opts.LeaseDuration = 40 * time.Millisecond
	opts.RenewMargin = 20 * time.Millisecond
	m := New(prov, bc, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	prov.events <- provider.Event{Kind: provider.EventPrinterAdded, Printer: "new"}
	require.Eventually(t, func() bool {
		topology, _ := bc.counts()
		return topology == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Status().Renewals >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	prov.mu.Lock()
	defer prov.mu.Unlock()
	assert.Equal(t, []string{"lease-1"}, prov.cancels)
}
