package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
	"github.com/printdialog/printdialog/internal/session"
)

// fakeProvider enumerates a fixed list. Before each record it optionally
// waits on gate, and the first failures calls return errFlaky. With
// ignoreKeep set it reports every record regardless of the filter.
type fakeProvider struct {
	records    []printer.Record
	gate       chan struct{}
	ignoreKeep bool
	failures   atomic.Int32
	calls      atomic.Int32
}

var errFlaky = errors.New("print system busy")

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) EnumeratePrinters(ctx context.Context, cancel provider.Canceller, keep printer.Filter, onEach func(printer.Record) bool) error {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errFlaky
	}
	for _, rec := range f.records {
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if cancel.Cancelled() {
			return nil
		}
		if !f.ignoreKeep && !keep.Keep(rec) {
			continue
		}
		if !onEach(rec) {
			return nil
		}
	}
	return nil
}

func (f *fakeProvider) Printer(context.Context, string) (printer.Record, error) {
	return printer.Record{}, provider.ErrNotFound
}
func (f *fakeProvider) DefaultPrinter(context.Context) (string, error) { return "", provider.ErrNoDefault }
func (f *fakeProvider) Subscribe(context.Context) (provider.Lease, error) {
	return provider.Lease{}, nil
}
func (f *fakeProvider) Renew(context.Context, string) (provider.Lease, error) {
	return provider.Lease{}, nil
}
func (f *fakeProvider) Cancel(context.Context, string) error { return nil }
func (f *fakeProvider) Events() <-chan provider.Event         { return nil }

type countingNotifier struct {
	mu    sync.Mutex
	added map[string][]string
}

func (n *countingNotifier) NotifyAdded(id string, rec printer.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.added == nil {
		n.added = make(map[string][]string)
	}
	n.added[id] = append(n.added[id], rec.Name)
}

func (n *countingNotifier) names(id string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.added[id]...)
}

func mixedRecords() []printer.Record {
	return []printer.Record{
		{Name: "local1"},
		{Name: "remote1", Remote: true},
		{Name: "temp1", Temporary: true},
		{Name: "local2"},
	}
}

func newEngine(t *testing.T, prov provider.Provider) (*Engine, *countingNotifier) {
	t.Helper()
	n := &countingNotifier{}
	e := New(context.Background(), prov, n, Options{RetryDelay: time.Millisecond, Logger: zerolog.Nop()})
	t.Cleanup(e.Wait)
	return e, n
}

func TestStartReportsEveryPrinterOnce(t *testing.T) {
	e, n := newEngine(t, &fakeProvider{records: mixedRecords()})
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	e.Wait()
	// A second run in the same epoch finds nothing new.
	e.start(d, d.Token())
	e.Wait()

	assert.Equal(t, []string{"local1", "remote1", "temp1", "local2"}, n.names("A"))
	assert.Equal(t, 4, d.View().Len())
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords(), gate: make(chan struct{})}
	e, n := newEngine(t, prov)
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	e.Start(d)
	assert.Equal(t, 1, e.Running())

	close(prov.gate)
	e.Wait()
	assert.Equal(t, int32(1), prov.calls.Load())
	assert.Len(t, n.names("A"), 4)
}

func TestFilterCorrectness(t *testing.T) {
	tests := []struct {
		name   string
		remote bool
		temp   bool
		want   []string
	}{
		{"no filter", false, false, []string{"local1", "remote1", "temp1", "local2"}},
		{"hide remote", true, false, []string{"local1", "temp1", "local2"}},
		{"hide temporary", false, true, []string{"local1", "remote1", "local2"}},
		{"hide both", true, true, []string{"local1", "local2"}},
	}
	for _, tt := range tests {
		for _, ignoreKeep := range []bool{false, true} {
			name := tt.name
			if ignoreKeep {
				name += "/provider ignores filter"
			}
			t.Run(name, func(t *testing.T) {
				e, n := newEngine(t, &fakeProvider{records: mixedRecords(), ignoreKeep: ignoreKeep})
				d, _ := session.NewRegistry().GetOrCreate("A")
				d.SetHideRemote(tt.remote)
				d.SetHideTemporary(tt.temp)

				e.Start(d)
				e.Wait()

				assert.Equal(t, tt.want, n.names("A"))
				assert.ElementsMatch(t, tt.want, d.View().Names())
			})
		}
	}
}

func TestCancellationBound(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords(), gate: make(chan struct{})}
	e, n := newEngine(t, prov)
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	prov.gate <- struct{}{}
	require.Eventually(t, func() bool { return len(n.names("A")) == 1 }, time.Second, time.Millisecond)

	e.Cancel(d)
	close(prov.gate)
	e.Wait()

	assert.Equal(t, []string{"local1"}, n.names("A"))
	assert.Equal(t, 1, d.View().Len())
}

func TestCancelWithoutRun(t *testing.T) {
	e, _ := newEngine(t, &fakeProvider{})
	d, _ := session.NewRegistry().GetOrCreate("A")
	e.Cancel(d)
	e.Cancel(d)
	assert.True(t, d.Token().Cancelled())

	// A cancelled epoch never starts.
	e.Start(d)
	assert.Equal(t, 0, e.Running())
}

func TestRefreshStartsCleanEpoch(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords()}
	e, n := newEngine(t, prov)
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	e.Wait()
	old := d.Token()

	d.SetHideRemote(true)
	e.Refresh(d)
	e.Wait()

	assert.True(t, old.Cancelled())
	assert.False(t, d.Token().Cancelled())
	assert.Equal(t, []string{"local1", "local2", "temp1"}, d.View().Names())
	// Four from the first epoch, three re-reported in the new one.
	assert.Len(t, n.names("A"), 7)
}

func TestStaleEpochCannotWrite(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords(), gate: make(chan struct{})}
	e, n := newEngine(t, prov)
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	prov.gate <- struct{}{}
	require.Eventually(t, func() bool { return len(n.names("A")) == 1 }, time.Second, time.Millisecond)

	// The refresh run and the stale run share the gate; closing it lets
	// both finish.
	e.Refresh(d)
	close(prov.gate)
	e.Wait()

	assert.Equal(t, 4, d.View().Len())
	assert.Len(t, n.names("A"), 5)
}

func TestRetriesTransientErrors(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords()}
	prov.failures.Store(2)
	e, n := newEngine(t, prov)
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	e.Wait()

	assert.Equal(t, int32(3), prov.calls.Load())
	assert.Len(t, n.names("A"), 4)
}

func TestGivesUpAfterAttempts(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords()}
	prov.failures.Store(100)
	e, n := newEngine(t, prov)
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	e.Wait()

	assert.Equal(t, int32(3), prov.calls.Load())
	assert.Empty(t, n.names("A"))
}

func TestRootContextStopsRuns(t *testing.T) {
	prov := &fakeProvider{records: mixedRecords(), gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	e := New(ctx, prov, &countingNotifier{}, Options{Logger: zerolog.Nop()})
	d, _ := session.NewRegistry().GetOrCreate("A")

	e.Start(d)
	cancel()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after root context cancellation")
	}
}
