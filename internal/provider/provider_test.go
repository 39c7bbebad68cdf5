package provider

import (
	"fmt"
	"testing"
	"time"

	"github.com/printdialog/printdialog/internal/printer"
)

func TestDiff(t *testing.T) {
	at := time.Unix(1000, 0)
	prev := map[string]printer.Record{
		"gone":    {Name: "gone"},
		"stable":  {Name: "stable", State: printer.Idle, AcceptingJobs: true},
		"stopped": {Name: "stopped", State: printer.Idle, AcceptingJobs: true},
	}
	next := map[string]printer.Record{
		"stable":  {Name: "stable", State: printer.Idle, AcceptingJobs: true, Info: "changed info only"},
		"stopped": {Name: "stopped", State: printer.Stopped, AcceptingJobs: false},
		"b-new":   {Name: "b-new"},
		"a-new":   {Name: "a-new"},
	}

	events := Diff(prev, next, at)

	want := []struct {
		kind EventKind
		name string
	}{
		{EventPrinterRemoved, "gone"},
		{EventPrinterAdded, "a-new"},
		{EventPrinterAdded, "b-new"},
		{EventPrinterStateChanged, "stopped"},
	}
	if len(events) != len(want) {
		t.Fatalf("Diff returned %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Kind != w.kind || events[i].Printer != w.name {
			t.Errorf("events[%d] = %s %q, want %s %q", i, events[i].Kind, events[i].Printer, w.kind, w.name)
		}
		if !events[i].At.Equal(at) {
			t.Errorf("events[%d].At = %v, want %v", i, events[i].At, at)
		}
	}
	last := events[3]
	if last.State != printer.Stopped || last.AcceptingJobs {
		t.Errorf("state change carries %v/%v, want stopped/false", last.State, last.AcceptingJobs)
	}
}

func TestDiffEmpty(t *testing.T) {
	if got := Diff(nil, nil, time.Now()); len(got) != 0 {
		t.Errorf("Diff(nil, nil) = %v, want empty", got)
	}
}

func TestLeaseLive(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name  string
		lease Lease
		want  bool
	}{
		{"zero", Lease{}, false},
		{"no id", Lease{Expiry: now.Add(time.Hour)}, false},
		{"expired", Lease{ID: "1", Expiry: now.Add(-time.Second)}, false},
		{"at expiry", Lease{ID: "1", Expiry: now}, false},
		{"live", Lease{ID: "1", Expiry: now.Add(time.Minute)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lease.Live(now); got != tt.want {
				t.Errorf("Live() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventPrinterAdded, "printer-added"},
		{EventPrinterRemoved, "printer-deleted"},
		{EventPrinterStateChanged, "printer-state-changed"},
		{EventKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestHealthFailureTracking(t *testing.T) {
	h := NewHealth(3)

	if s := h.Snapshot().Status; s != StatusHealthy {
		t.Fatalf("new health status = %s, want healthy", s)
	}

	h.RecordFailure(fmt.Errorf("connection refused"))
	h.RecordFailure(fmt.Errorf("timeout"))
	if s := h.Snapshot().Status; s != StatusDegraded {
		t.Errorf("status below threshold = %s, want degraded", s)
	}

	h.RecordFailure(fmt.Errorf("still broken"))
	snap := h.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("status at threshold = %s, want failed", snap.Status)
	}
	if snap.LastError != "still broken" {
		t.Errorf("LastError = %q, want %q", snap.LastError, "still broken")
	}
	if snap.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", snap.ConsecutiveFailures)
	}
}

func TestHealthRecovery(t *testing.T) {
	h := NewHealth(2)
	for i := 0; i < 5; i++ {
		h.RecordFailure(fmt.Errorf("fail %d", i))
	}
	h.RecordSuccess()

	snap := h.Snapshot()
	if snap.Status != StatusHealthy {
		t.Errorf("status after success = %s, want healthy", snap.Status)
	}
	if snap.LastError != "" {
		t.Errorf("LastError = %q, want empty", snap.LastError)
	}
	if snap.LastSuccess.IsZero() {
		t.Error("LastSuccess not recorded")
	}
}

func TestHealthTransition(t *testing.T) {
	h := NewHealth(1)

	if _, changed := h.Transition(); changed {
		t.Error("fresh tracker reported a transition")
	}

	h.RecordFailure(fmt.Errorf("boom"))
	status, changed := h.Transition()
	if !changed || status != StatusFailed {
		t.Errorf("Transition() = %s/%v, want failed/true", status, changed)
	}
	if _, changed := h.Transition(); changed {
		t.Error("repeated Transition() reported a change")
	}

	h.RecordSuccess()
	status, changed = h.Transition()
	if !changed || status != StatusHealthy {
		t.Errorf("Transition() after recovery = %s/%v, want healthy/true", status, changed)
	}
}

func TestNewHealthClampsThreshold(t *testing.T) {
	h := NewHealth(0)
	h.RecordFailure(fmt.Errorf("x"))
	if s := h.Snapshot().Status; s != StatusFailed {
		t.Errorf("status = %s, want failed with threshold clamped to 1", s)
	}
}
