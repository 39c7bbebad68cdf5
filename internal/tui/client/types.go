// Package client provides WebSocket and HTTP clients for the printdialog backend.
// Types mirror the backend wire protocol without importing backend packages.
package client

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

// Requests sent by the frontend.
const (
	MsgGetPrinterList    MessageType = "get_printer_list"
	MsgStopListing       MessageType = "stop_listing"
	MsgHideRemote        MessageType = "hide_remote"
	MsgUnhideRemote      MessageType = "unhide_remote"
	MsgHideTemporary     MessageType = "hide_temporary"
	MsgUnhideTemporary   MessageType = "unhide_temporary"
	MsgKeepAlive         MessageType = "keep_alive"
	MsgReplace           MessageType = "replace"
	MsgGetPrinterState   MessageType = "get_printer_state"
	MsgIsAcceptingJobs   MessageType = "is_accepting_jobs"
	MsgGetDefaultPrinter MessageType = "get_default_printer"
	MsgPing              MessageType = "ping"
)

// Messages pushed by the backend.
const (
	MsgHello               MessageType = "hello"
	MsgReply               MessageType = "reply"
	MsgError               MessageType = "error"
	MsgPrinterAdded        MessageType = "printer_added"
	MsgPrinterStateChanged MessageType = "printer_state_changed"
)

// Request is the envelope for frontend-to-backend messages.
type Request struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// WSMessage is the envelope for backend-to-frontend messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PrinterState is one of "idle", "processing" or "stopped".
type PrinterState string

const (
	StateIdle       PrinterState = "idle"
	StateProcessing PrinterState = "processing"
	StateStopped    PrinterState = "stopped"
)

// Printer mirrors backend/internal/printer.Record.
type Printer struct {
	Name          string       `json:"name"`
	Presentation  string       `json:"presentationName"`
	Info          string       `json:"info"`
	Location      string       `json:"location"`
	MakeModel     string       `json:"makeAndModel"`
	AcceptingJobs bool         `json:"acceptingJobs"`
	State         PrinterState `json:"state"`
	Remote        bool         `json:"remote"`
	Temporary     bool         `json:"temporary"`
	Backend       string       `json:"backend"`
}

// DisplayName prefers the presentation name over the queue name.
func (p *Printer) DisplayName() string {
	if p.Presentation != "" {
		return p.Presentation
	}
	return p.Name
}

type HelloPayload struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PrinterAddedPayload struct {
	DialogID string  `json:"dialog_id"`
	Printer  Printer `json:"printer"`
}

type PrinterStateChangedPayload struct {
	DialogID      string       `json:"dialog_id"`
	Name          string       `json:"name"`
	State         PrinterState `json:"state"`
	AcceptingJobs bool         `json:"accepting_jobs"`
}

type PrinterListReply struct {
	Created  bool      `json:"created"`
	Printers []Printer `json:"printers"`
}

type PrinterRequest struct {
	Printer string `json:"printer"`
}

type ReplaceRequest struct {
	PreviousID string `json:"previous_id"`
}

type DefaultPrinterReply struct {
	Printer string `json:"printer"`
}

// HealthStatus mirrors backend/internal/provider.HealthStatus.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

type HealthSnapshot struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastError           string       `json:"lastError,omitempty"`
	LastSuccess         time.Time    `json:"lastSuccess,omitempty"`
}

type DispatchStats struct {
	Added        int64 `json:"added"`
	StateChanged int64 `json:"stateChanged"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	Refreshes    int64 `json:"refreshes"`
}

type SubscriptionStatus struct {
	LeaseID      string    `json:"leaseId,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Renewals     int       `json:"renewals"`
	Resubscribes int       `json:"resubscribes"`
	Events       int       `json:"events"`
}

// Status mirrors the /api/status response.
type Status struct {
	Provider     string              `json:"provider"`
	Health       *HealthSnapshot     `json:"health,omitempty"`
	Dialogs      int                 `json:"dialogs"`
	Connections  int                 `json:"connections"`
	Dispatch     *DispatchStats      `json:"dispatch,omitempty"`
	Subscription *SubscriptionStatus `json:"subscription,omitempty"`
}

// DialogInfo mirrors backend/internal/session.Info.
type DialogInfo struct {
	ID            string    `json:"id"`
	HideRemote    bool      `json:"hideRemote"`
	HideTemporary bool      `json:"hideTemporary"`
	KeepAlive     bool      `json:"keepAlive"`
	PID           int32     `json:"pid,omitempty"`
	Printers      []string  `json:"printers"`
	CreatedAt     time.Time `json:"createdAt"`
}
