package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/docmapper/internal/core"
)

// healthTimeout bounds the store ping of GET /healthz.
const healthTimeout = 2 * time.Second

// handleHealth reports liveness and store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := map[string]any{
		"status":   "ok",
		"mappings": core.Count(),
	}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp["status"] = "unavailable"
		resp["store"] = core.MapError(err).Message
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, r, status, resp)
}

// handleListMappings returns every registered mapping.
func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings := s.service.ListMappings()
	resp := make([]MappingSummary, 0, len(mappings))
	for _, m := range mappings {
		resp = append(resp, toMappingSummary(m))
	}
	writeJSON(w, r, resp)
}

// handleGetMapping returns one mapping with its compiled schema.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.GetMapping(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, toMappingDetail(m))
}

// handleListEntities returns the entity catalog.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	types := s.service.Catalog().Types()
	resp := make([]EntityTypeInfo, 0, len(types))
	for _, t := range types {
		resp = append(resp, toEntityTypeInfo(t))
	}
	writeJSON(w, r, resp)
}

// handleListHooks returns the hook names a schema may use.
func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]any{"hooks": s.service.Hooks().Names()})
}

// handleLimiterStatus returns the load limiter state.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.service.LimiterStatus())
}

// handleStartLoad loads the request body with the named mapping. An empty
// body loads the mapping's default source. With ?wait=true the response
// carries the finished record; otherwise 202 and the load id.
func (s *Server) handleStartLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := withClient(r.Context(), r)

	id, err := s.service.StartLoad(ctx, name, r.Body)
	if err != nil {
		if errors.Is(err, core.ErrTooManyLoads) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		}
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/loads/"+id)

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSONStatus(w, r, http.StatusAccepted, map[string]string{
			"load_id": id,
			"status":  string(core.LoadRunning),
		})
		return
	}
	s.writeRecord(w, r, id)
}

// retryAfterSeconds is sent with 503 when every load slot is taken.
const retryAfterSeconds = 5

// handleLoadResult returns the current state of a load.
func (s *Server) handleLoadResult(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.Result(chi.URLParam(r, "loadID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, record)
}

// handleWaitLoad blocks until the load finishes or the request times out.
func (s *Server) handleWaitLoad(w http.ResponseWriter, r *http.Request) {
	s.writeRecord(w, r, chi.URLParam(r, "loadID"))
}

// writeRecord waits for the load and writes its record. A request that
// gives up first gets 202 with the record so far.
func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, id string) {
	record, err := s.service.Wait(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrLoadNotFound):
		respondError(w, r, err)
	case err != nil:
		writeJSONStatus(w, r, http.StatusAccepted, record)
	default:
		writeJSON(w, r, record)
	}
}

// handleCancelLoad cancels a running load.
func (s *Server) handleCancelLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "loadID")
	if err := s.service.CancelLoad(id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, r, http.StatusAccepted, map[string]string{"load_id": id, "status": "cancelling"})
}

// handleListLoads returns the loads still held in memory, newest first.
func (s *Server) handleListLoads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.service.ListLoads())
}
