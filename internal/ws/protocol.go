package ws

import (
	"encoding/json"

	"github.com/printdialog/printdialog/internal/printer"
)

type MessageType string

// Inbound request types.
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

// Outbound message types.
const (
	MsgHello               MessageType = "hello"
	MsgReply               MessageType = "reply"
	MsgError               MessageType = "error"
	MsgPrinterAdded        MessageType = "printer_added"
	MsgPrinterStateChanged MessageType = "printer_state_changed"
)

// Error codes carried by MsgError.
const (
	CodeBadRequest  = "bad_request"
	CodeUnknownType = "unknown_type"
	CodeNotFound    = "not_found"
)

// Request is a frontend-to-backend message. ID is echoed in the reply.
type Request struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSMessage is a backend-to-frontend message.
type WSMessage struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type HelloPayload struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PrinterAddedPayload struct {
	DialogID string         `json:"dialog_id"`
	Printer  printer.Record `json:"printer"`
}

type PrinterStateChangedPayload struct {
	DialogID      string        `json:"dialog_id"`
	Name          string        `json:"name"`
	State         printer.State `json:"state"`
	AcceptingJobs bool          `json:"accepting_jobs"`
}

// PrinterListReply carries the dialog's view when the request was
// handled. Discovery may already be running, so printer_added signals can
// arrive before the reply or repeat entries from it. Frontends merge both
// by printer name.
type PrinterListReply struct {
	Created  bool             `json:"created"`
	Printers []printer.Record `json:"printers"`
}

type PrinterRequest struct {
	Printer string `json:"printer"`
}

type ReplaceRequest struct {
	PreviousID string `json:"previous_id"`
}

type PrinterStateReply struct {
	Printer string        `json:"printer"`
	State   printer.State `json:"state"`
}

type AcceptingJobsReply struct {
	Printer       string `json:"printer"`
	AcceptingJobs bool   `json:"accepting_jobs"`
}

type DefaultPrinterReply struct {
	Printer string `json:"printer"`
}

type PingReply struct {
	Printer string `json:"printer,omitempty"`
	Alive   bool   `json:"alive"`
}

// Ack is the reply to requests that carry no result.
type Ack struct {
	OK bool `json:"ok"`
}
