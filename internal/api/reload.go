package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ReloadHandler flushes the catalog cache so the next reads hit storage.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "reload"
	const method = "POST"

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	flushed := 0
	if f, ok := s.Store.(cacheFlusher); ok {
		n, err := f.FlushCache(r.Context())
		if err != nil {
			s.Logger.Error("reload failed", zap.Error(err))
			s.observe(endpoint, method, writeError(w, err), start)
			return
		}
		flushed = n
	}
	s.Logger.Info("catalog cache flushed", zap.Int("keys", flushed))
	writeJSON(w, http.StatusOK, map[string]int{"flushed": flushed})
	s.observe(endpoint, method, http.StatusOK, start)
}
