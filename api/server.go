// Package api provides the HTTP REST API server for FinFiles.
//
// It exposes endpoints for filing queries, on-demand fetching,
// analytics, export, the audit trail, and WebSocket streaming.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finfiles/finfiles/internal/analytics"
	"github.com/finfiles/finfiles/internal/audit"
	"github.com/finfiles/finfiles/internal/config"
	"github.com/finfiles/finfiles/internal/edgar"
	"github.com/finfiles/finfiles/internal/fetcher"
	"github.com/finfiles/finfiles/internal/filing"
	"github.com/finfiles/finfiles/internal/hub"
	"github.com/finfiles/finfiles/internal/metric"
	"github.com/finfiles/finfiles/pkg/models"
)

// actorHeader carries the caller's role. Absent means anonymous;
// anonymous callers may read filings but not export or run analytics.
const actorHeader = "X-Actor-Role"

// Deps bundles the components the server routes requests to.
type Deps struct {
	Store      *filing.Store
	Hub        *hub.Hub
	Poller     *fetcher.Poller
	Edgar      *edgar.Client
	Dispatcher *analytics.Dispatcher
	Audit      *audit.Log
}

// Server is the HTTP API server.
type Server struct {
	router chi.Router
	cfg    *config.Config
	store  *filing.Store
	hub    *hub.Hub
	poller *fetcher.Poller
	edgar  *edgar.Client
	disp   *analytics.Dispatcher
	audit  *audit.Log
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		store:  deps.Store,
		hub:    deps.Hub,
		poller: deps.Poller,
		edgar:  deps.Edgar,
		disp:   deps.Dispatcher,
		audit:  deps.Audit,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", actorHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metric.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/fetch", s.handleFetch)

		r.Get("/filings", s.handleFilings)
		r.Get("/filings/{accessionID}", s.handleFiling)
		r.Get("/feed/{ticker}", s.handleFeed)
		r.Get("/export", s.handleExport)

		r.Post("/analytics", s.handleAnalytics)
		r.Get("/backends", s.handleBackends)

		r.Get("/audit", s.handleAudit)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FetchRequest is the body for POST /api/v1/fetch. An empty ticker
// list falls back to the configured watch list.
type FetchRequest struct {
	Tickers []string `json:"tickers"`
}

// AnalyticsCallRequest is the body for POST /api/v1/analytics.
type AnalyticsCallRequest struct {
	AccessionID string                    `json:"accession_id"`
	Backend     string                    `json:"backend,omitempty"`
	Operation   models.AnalyticsOperation `json:"operation"`
	Prompt      string                    `json:"prompt,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":      "ok",
			"filings":     s.store.Len(),
			"subscribers": s.hub.SubscriberCount(),
		},
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	tickers := req.Tickers
	if len(tickers) == 0 {
		tickers = s.cfg.Fetcher.Tickers
	}
	if len(tickers) == 0 {
		writeError(w, http.StatusBadRequest, "no tickers given and no watch list configured")
		return
	}

	results := s.poller.FetchOnce(r.Context(), actorRole(r), tickers)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: results})
}

func (s *Server) handleFilings(w http.ResponseWriter, r *http.Request) {
	spec, err := specFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filings := s.store.Query(spec)

	entry := models.AuditEntry{
		ActorRole: actorRole(r),
		Action:    models.ActionFilter,
		Target:    spec.String(),
		Outcome:   models.OutcomeSuccess,
		Detail:    fmt.Sprintf("%d filings", len(filings)),
	}
	if err := s.audit.Append(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "audit write failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: filings})
}

func (s *Server) handleFiling(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accessionID")
	f, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "filing not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: f})
}

// handleFeed serves the live EDGAR Atom feed for one company. Unlike
// /filings it bypasses the store, so entries may not be admitted yet.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	ticker := edgar.SanitizeTicker(chi.URLParam(r, "ticker"))
	cik, err := s.edgar.ResolveTicker(r.Context(), ticker)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown ticker: "+ticker)
		return
	}

	raws, err := s.edgar.CompanyFeed(r.Context(), s.cfg.Edgar.BrowseURL, cik)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	entry := models.AuditEntry{
		ActorRole: actorRole(r),
		Action:    models.ActionFetch,
		Target:    "feed:" + ticker,
		Outcome:   models.OutcomeSuccess,
		Detail:    fmt.Sprintf("%d entries", len(raws)),
	}
	if err := s.audit.Append(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "audit write failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: raws})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	role := actorRole(r)
	if role == "anonymous" {
		writeError(w, http.StatusForbidden, "export requires an actor role")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(w, http.StatusBadRequest, "format must be json or csv")
		return
	}

	spec, err := specFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filings := s.store.Query(spec)

	entry := models.AuditEntry{
		ActorRole: role,
		Action:    models.ActionExport,
		Target:    spec.String(),
		Outcome:   models.OutcomeSuccess,
		Detail:    fmt.Sprintf("%d filings as %s", len(filings), format),
	}
	if err := s.audit.Append(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "audit write failed: "+err.Error())
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="filings.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"accession_id", "cik", "ticker", "company_name", "form_type", "filed_date", "document_url"})
		for _, f := range filings {
			_ = cw.Write([]string{
				f.AccessionID, f.CIK, f.Ticker, f.CompanyName,
				string(f.FormType), f.FiledDate.Format("2006-01-02"), f.DocumentURL,
			})
		}
		cw.Flush()
	default:
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: filings})
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	role := actorRole(r)
	if role == "anonymous" {
		writeError(w, http.StatusForbidden, "analytics requires an actor role")
		return
	}

	var req AnalyticsCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessionID == "" {
		writeError(w, http.StatusBadRequest, "accession_id is required")
		return
	}
	if req.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}

	f, ok := s.store.Get(req.AccessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "filing not found: "+req.AccessionID)
		return
	}

	text := ""
	if f.DocumentURL != "" {
		var err error
		text, err = s.edgar.DocumentText(r.Context(), f.DocumentURL)
		if err != nil {
			entry := models.AuditEntry{
				ActorRole: role,
				Action:    models.ActionAnalyticsInvoke,
				Target:    req.AccessionID,
				Outcome:   models.OutcomeFailure,
				Detail:    fmt.Sprintf("backend=%s op=%s error=%v", req.Backend, req.Operation, err),
			}
			if aerr := s.audit.Append(r.Context(), entry); aerr != nil {
				writeError(w, http.StatusInternalServerError, "audit write failed: "+aerr.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	res, invokeErr := s.disp.Invoke(r.Context(), req.Backend, analytics.Request{
		Filing:    f,
		Text:      text,
		Operation: req.Operation,
		Prompt:    req.Prompt,
	})

	entry := models.AuditEntry{
		ActorRole: role,
		Action:    models.ActionAnalyticsInvoke,
		Target:    req.AccessionID,
		Outcome:   models.OutcomeSuccess,
		Detail:    fmt.Sprintf("backend=%s op=%s", req.Backend, req.Operation),
	}
	if invokeErr != nil {
		entry.Outcome = models.OutcomeFailure
		entry.Detail += " error=" + invokeErr.Error()
	}
	if err := s.audit.Append(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "audit write failed: "+err.Error())
		return
	}

	if invokeErr != nil {
		writeError(w, analyticsStatus(invokeErr), invokeErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.disp.Backends()})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.TrailFilter{
		Action:    models.AuditAction(q.Get("action")),
		ActorRole: q.Get("role"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.audit.Trail(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entries})
}

// actorRole reads the caller's role from the request header.
func actorRole(r *http.Request) string {
	role := strings.TrimSpace(r.Header.Get(actorHeader))
	if role == "" {
		return "anonymous"
	}
	return role
}

// specFromQuery builds a filter from the shared query parameters:
// forms (comma-separated), cik (repeatable), from, to (2006-01-02).
func specFromQuery(r *http.Request) (filing.FilterSpec, error) {
	var spec filing.FilterSpec
	q := r.URL.Query()

	if forms := q.Get("forms"); forms != "" {
		for _, f := range strings.Split(forms, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				spec.FormTypes = append(spec.FormTypes, models.FormType(f))
			}
		}
	}
	spec.CIKs = append(spec.CIKs, q["cik"]...)

	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return spec, fmt.Errorf("from must be 2006-01-02 formatted")
		}
		spec.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return spec, fmt.Errorf("to must be 2006-01-02 formatted")
		}
		spec.To = t
	}
	return spec, nil
}

func analyticsStatus(err error) int {
	switch {
	case errors.Is(err, analytics.ErrBackendNotFound):
		return http.StatusNotFound
	case errors.Is(err, analytics.ErrUnsupportedOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, analytics.ErrBackendTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, analytics.ErrNoDocument):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
