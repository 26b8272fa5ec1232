package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/middleware"
	"github.com/patrickwarner/dcoserve/internal/models"
)

// InventoryHandler handles GET /inventory with a listing of templates and campaigns.
func (s *Server) InventoryHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "inventory"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	lister, ok := s.Store.(models.InventoryLister)
	if !ok {
		err := fmt.Errorf("%w: inventory listing not supported", models.ErrNotFound)
		s.observe(endpoint, method, writeError(w, err), start)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.storageTimeout())
	defer cancel()
	inv, err := lister.ListInventory(ctx)
	if err != nil {
		logger.Error("list inventory", zap.Error(err))
		s.observe(endpoint, method, writeError(w, models.Unavailable("list inventory", err)), start)
		return
	}
	writeJSON(w, http.StatusOK, inv)
	s.observe(endpoint, method, http.StatusOK, start)
}
