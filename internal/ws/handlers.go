package ws

import (
	"encoding/json"
	"errors"

	"github.com/printdialog/printdialog/internal/printer"
	"github.com/printdialog/printdialog/internal/provider"
	"github.com/printdialog/printdialog/internal/session"
)

func (s *Server) dispatch(c *client, pid int32, req Request) {
	switch req.Type {
	case MsgGetPrinterList:
		s.getPrinterList(c, pid, req)
	case MsgStopListing:
		s.stopListing(c.id)
		s.reply(c, req, Ack{OK: true})
	case MsgHideRemote, MsgUnhideRemote:
		d, _ := s.dialog(c, pid)
		if d.SetHideRemote(req.Type == MsgHideRemote) {
			s.discovery.Refresh(d)
		}
		s.reply(c, req, Ack{OK: true})
	case MsgHideTemporary, MsgUnhideTemporary:
		d, _ := s.dialog(c, pid)
		if d.SetHideTemporary(req.Type == MsgHideTemporary) {
			s.discovery.Refresh(d)
		}
		s.reply(c, req, Ack{OK: true})
	case MsgKeepAlive:
		d, _ := s.dialog(c, pid)
		d.SetKeepAlive()
		s.reply(c, req, Ack{OK: true})
	case MsgReplace:
		var body ReplaceRequest
		if !s.decode(c, req, &body) {
			return
		}
		if body.PreviousID != "" && s.registry.Replace(body.PreviousID, c.id) {
			s.log.Info().Str("previous_id", body.PreviousID).Str("dialog_id", c.id).Msg("dialog replaced")
		}
		s.reply(c, req, Ack{OK: true})
	case MsgGetPrinterState:
		var body PrinterRequest
		if !s.decode(c, req, &body) {
			return
		}
		if rec, ok := s.lookup(c, req, body.Printer); ok {
			s.reply(c, req, PrinterStateReply{Printer: rec.Name, State: rec.State})
		}
	case MsgIsAcceptingJobs:
		var body PrinterRequest
		if !s.decode(c, req, &body) {
			return
		}
		if rec, ok := s.lookup(c, req, body.Printer); ok {
			s.reply(c, req, AcceptingJobsReply{Printer: rec.Name, AcceptingJobs: rec.AcceptingJobs})
		}
	case MsgGetDefaultPrinter:
		s.getDefaultPrinter(c, req)
	case MsgPing:
		var body PrinterRequest
		if len(req.Payload) > 0 && !s.decode(c, req, &body) {
			return
		}
		s.reply(c, req, PingReply{Printer: body.Printer, Alive: true})
	default:
		s.sendError(c, req.ID, CodeUnknownType, "unknown message type "+string(req.Type))
	}
}

// dialog returns the sender's dialog, creating it on first use.
func (s *Server) dialog(c *client, pid int32) (*session.Dialog, bool) {
	d, created := s.registry.GetOrCreate(c.id)
	if created {
		s.log.Debug().Str("dialog_id", c.id).Msg("dialog created")
	}
	if pid > 0 {
		d.SetPID(pid)
	}
	return d, created
}

func (s *Server) getPrinterList(c *client, pid int32, req Request) {
	d, created := s.dialog(c, pid)
	s.reply(c, req, PrinterListReply{
		Created:  created,
		Printers: d.View().Records(),
	})

	// Re-listing after the epoch was cancelled needs a fresh token.
	if d.Token().Cancelled() {
		s.discovery.Refresh(d)
		return
	}
	s.discovery.Start(d)
}

// stopListing removes the sender's dialog unless it is pinned by
// keep-alive. It serves both the explicit request and connection close.
func (s *Server) stopListing(id string) {
	d, ok := s.registry.Find(id)
	if !ok {
		return
	}
	if !s.policy.ShouldRemoveOnDisconnect(d) {
		s.log.Debug().Str("dialog_id", id).Msg("keep-alive dialog survives stop")
		return
	}
	s.registry.Remove(id)
}

// lookup resolves a printer from the dialog's own view first and falls
// back to the provider for printers the dialog has not been told about.
func (s *Server) lookup(c *client, req Request, name string) (printer.Record, bool) {
	if name == "" {
		s.sendError(c, req.ID, CodeBadRequest, "printer is required")
		return printer.Record{}, false
	}
	if d, ok := s.registry.Find(c.id); ok {
		if rec, ok := d.View().Get(name); ok {
			return rec, true
		}
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	rec, err := s.provider.Printer(ctx, name)
	if errors.Is(err, provider.ErrNotFound) {
		s.sendError(c, req.ID, CodeNotFound, "no printer named "+name)
		return printer.Record{}, false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("printer", name).Msg("printer lookup failed")
		s.sendError(c, req.ID, CodeNotFound, "printer unavailable")
		return printer.Record{}, false
	}
	return rec, true
}

func (s *Server) getDefaultPrinter(c *client, req Request) {
	ctx, cancel := s.requestContext()
	defer cancel()
	name, err := s.provider.DefaultPrinter(ctx)
	if err != nil {
		if !errors.Is(err, provider.ErrNoDefault) {
			s.log.Warn().Err(err).Msg("default printer lookup failed")
		}
		name = ""
	}
	s.reply(c, req, DefaultPrinterReply{Printer: name})
}

func (s *Server) decode(c *client, req Request, v interface{}) bool {
	if err := json.Unmarshal(req.Payload, v); err != nil {
		s.sendError(c, req.ID, CodeBadRequest, "invalid payload for "+string(req.Type))
		return false
	}
	return true
}

func (s *Server) reply(c *client, req Request, payload interface{}) {
	if err := s.hub.sendClient(c, WSMessage{Type: MsgReply, ID: req.ID, Payload: payload}); err != nil {
		s.log.Debug().Err(err).Str("dialog_id", c.id).Str("type", string(req.Type)).Msg("reply dropped")
	}
}

func (s *Server) sendError(c *client, id, code, message string) {
	err := s.hub.sendClient(c, WSMessage{
		Type:    MsgError,
		ID:      id,
		Payload: ErrorPayload{Code: code, Message: message},
	})
	if err != nil {
		s.log.Debug().Err(err).Str("dialog_id", c.id).Msg("error reply dropped")
	}
}
