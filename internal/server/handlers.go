package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/docstore"
	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/quota"
)

// pluginModeHeader, when "true", narrows a search to the request's own application.
const pluginModeHeader = "pluginmode"

type searchRequest struct {
	Query string `json:"query"`
	App   string `json:"app_key"`
	Limit int    `json:"limit,omitempty"`
}

type listRequest struct {
	App string `json:"app_key"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req models.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, docstore.KindValidation, "invalid request body")
		return
	}
	req.Principal = s.principal(r)
	s.logger.Debug("add request", zap.String("title", req.Title), zap.String("app", req.Application))
	item, err := s.store.Add(r.Context(), &req)
	if err != nil {
		s.respondStoreError(w, "add failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, docstore.KindValidation, "invalid request body")
		return
	}
	app := req.App
	if app == "" {
		app = s.config.Dispatch.DefaultApp
	}
	query := &models.SearchQuery{
		Query:     req.Query,
		Tags:      s.scopeTags(r, app),
		App:       app,
		Principal: s.principal(r),
		Limit:     req.Limit,
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Strings("tags", query.Tags), zap.Int("limit", query.Limit))
	resp, err := s.store.Search(r.Context(), query)
	if err != nil {
		s.respondStoreError(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMetadata(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, docstore.KindValidation, "invalid request body")
		return
	}
	s.list(w, r, req.App)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, r.URL.Query().Get("app"))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, app string) {
	resp, err := s.store.List(r.Context(), &models.ListQuery{Application: app, Principal: s.principal(r)})
	if err != nil {
		s.respondStoreError(w, "list failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.Get(r.Context(), chi.URLParam(r, "pk"))
	if err != nil {
		s.respondStoreError(w, "get failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	pk := chi.URLParam(r, "pk")
	s.logger.Debug("delete request", zap.String("item_pk", pk))
	if err := s.store.Delete(r.Context(), pk); err != nil {
		s.respondStoreError(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Reconcile(r.Context())
	if err != nil {
		s.respondStoreError(w, "reconcile failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondStoreError(w, "status failed", err)
		return
	}
	resp := map[string]interface{}{
		"backend":    stats.Backend,
		"items":      stats.Items,
		"vectors":    stats.Vectors,
		"dimensions": s.store.Dimensions(),
		"config": map[string]interface{}{
			"embedding_provider": s.config.Embedding.Provider,
			"embedding_model":    s.config.Embedding.Model,
			"quota_backend":      s.config.Quota.Backend,
			"quota_gated":        gatedOps(s.store.QuotaPolicy()),
			"base_tags":          s.config.Dispatch.BaseTags,
			"reconcile_interval": s.config.Reconcile.Interval.String(),
		},
	}
	if s.diskUsage != nil {
		if n, err := s.diskUsage(); err == nil {
			resp["disk_usage_bytes"] = n
		} else {
			s.logger.Warn("status: disk usage unavailable", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func gatedOps(p quota.Policy) []string {
	ops := []string{}
	for _, op := range []quota.Op{quota.OpSearch, quota.OpAdd, quota.OpList} {
		if p.Gated(op) {
			ops = append(ops, string(op))
		}
	}
	return ops
}

func (s *Server) scopeTags(r *http.Request, app string) []string {
	plugin := strings.EqualFold(r.Header.Get(pluginModeHeader), "true")
	return models.ScopeTags(s.config.Dispatch.BaseTags, app, plugin)
}

func (s *Server) principal(r *http.Request) string {
	return r.Header.Get(s.config.Server.PrincipalHeader)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case docstore.KindValidation:
		return http.StatusBadRequest
	case docstore.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case docstore.KindNotFound:
		return http.StatusNotFound
	case docstore.KindProvider:
		return http.StatusBadGateway
	case docstore.KindPartialFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) respondStoreError(w http.ResponseWriter, msg string, err error) {
	kind := docstore.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.String("kind", kind), zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.String("kind", kind), zap.Error(err))
	}
	s.respondError(w, status, kind, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "code": kind})
}
