package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/session"
	"github.com/BTreeMap/DengueCast/internal/store"
)

// CatalogResponse is the result of GET /catalog.
type CatalogResponse struct {
	Years     []int              `json:"years"`
	Months    []string           `json:"months"`
	Districts []catalog.District `json:"districts"`
}

// HealthResponse is the result of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// createSessionHandler handles POST /sessions.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Start(r.Context())
	slog.Debug("Server.createSessionHandler: session created", "sessionID", snap.SessionID)
	writeJSONResponse(w, http.StatusCreated, models.Success(snap))
}

// getSessionHandler handles GET /sessions/{id}.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.sessions.Get(id)
	if err != nil {
		s.writeSessionError(w, "Server.getSessionHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

// endSessionHandler handles DELETE /sessions/{id}.
func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.End(id); err != nil {
		s.writeSessionError(w, "Server.endSessionHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

// postMessageHandler handles POST /sessions/{id}/messages.
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req models.MessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.postMessageHandler: failed to decode JSON", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.postMessageHandler: validation failed", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid message: text is required and must be at most 1024 bytes"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.sessions.ProcessMessage(r.Context(), id, req.Text)
	if err != nil {
		s.writeSessionError(w, "Server.postMessageHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// catalogHandler handles GET /catalog.
func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(CatalogResponse{
		Years:     s.catalogs.Years.Years(),
		Months:    s.catalogs.Months.Names(),
		Districts: s.catalogs.Districts.Entries(),
	}))
}

// predictionsHandler handles GET /predictions?limit=N.
func (s *Server) predictionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, store.MaxListLimit)
	}
	records, err := s.st.ListPredictions(limit)
	if err != nil {
		slog.Error("Server.predictionsHandler: failed to list predictions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list predictions"))
		return
	}
	if records == nil {
		records = []models.PredictionRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(HealthResponse{Status: "ok", Sessions: s.sessions.Len()}))
}

func (s *Server) writeSessionError(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		slog.Debug(op+": session not found", "sessionID", id)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	slog.Error(op+": failed", "sessionID", id, "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
}
