package api

import (
	"net/http"
	"time"

	"github.com/querydesk/querydesk/internal/auth"
	"github.com/querydesk/querydesk/internal/config"
)

func handleRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema store is not configured")
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleSchemaAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error())
		return
	}

	snapshot, err := deps.Schema.Refresh(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"columns": deps.Schema.Current().Len(),
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"columns": snapshot.Len(),
	})
}

func handleSchemaStatus(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema store is not configured")
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error())
		return
	}

	snapshot := deps.Schema.Current()
	tables := make([]string, 0)
	for _, table := range snapshot.Tables() {
		tables = append(tables, table.Name)
	}
	var publishedAt *time.Time
	if snapshot.Initialized() {
		at := snapshot.PublishedAt().UTC()
		publishedAt = &at
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":  snapshot.Initialized(),
		"columns":      snapshot.Len(),
		"tables":       tables,
		"published_at": publishedAt,
		"stale":        deps.Schema.IsStale(cfg.Schema.TTL),
	})
}
