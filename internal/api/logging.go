package api

import "wallet.hh/internal/eventlog"

func (s *Server) logEvent(event string, fields map[string]any) {
	eventlog.Event(s.logger, event, fields)
}
