package api

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tealmail/drip/internal/errs"
	"github.com/tealmail/drip/internal/models"
)

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	Name      string               `json:"name"`
	FromEmail string               `json:"from_email"`
	FromName  string               `json:"from_name,omitempty"`
	Subject   string               `json:"subject"`
	Body      string               `json:"body"`
	Pacing    *models.PacingConfig `json:"pacing,omitempty"`
}

// AddLeadsRequest is the request body for POST /campaigns/{id}/leads
type AddLeadsRequest struct {
	Leads []LeadInput `json:"leads"`
}

// LeadInput is one recipient in a bulk insert
type LeadInput struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// AddLeadsResponse reports how many recipients were accepted
type AddLeadsResponse struct {
	Inserted int `json:"inserted"`
	Total    int `json:"total"`
}

// EventsRequest is the request body for POST /events
type EventsRequest struct {
	Events []models.FeedbackEvent `json:"events"`
}

// CampaignResponse is the progress report for GET /campaigns/{id}
type CampaignResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	StatusReason   string     `json:"status_reason,omitempty"`
	ResumePosition int        `json:"resume_position"`
	TotalLeads     int        `json:"total_leads"`
	ProcessedCount int        `json:"processed_count"`
	SkippedCount   int        `json:"skipped_count"`
	ErrorCount     int        `json:"error_count"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := mail.ParseAddress(req.FromEmail); err != nil {
		s.sendError(w, http.StatusBadRequest, "from_email is not a valid address")
		return
	}
	if req.Subject == "" {
		s.sendError(w, http.StatusBadRequest, "subject is required")
		return
	}
	if err := s.templates.Validate(req.Subject, req.Body); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := &models.Campaign{
		Name:      req.Name,
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
		Subject:   req.Subject,
		Body:      req.Body,
		Status:    models.CampaignDraft,
	}
	if req.Pacing != nil {
		if req.Pacing.MinDelayMs < 0 || req.Pacing.MaxDelayMs < req.Pacing.MinDelayMs {
			s.sendError(w, http.StatusBadRequest, "pacing delays invalid")
			return
		}
		c.Pacing = *req.Pacing
	}

	if err := s.campaigns.Create(c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	s.sendJSON(w, http.StatusCreated, campaignResponse(c))
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to load campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, campaignResponse(c))
}

// handlePlan handles GET /api/v1/campaigns/{id}/plan
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return
	}

	report, err := s.orch.Plan(id)
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, report)
}

// handleAddLeads handles POST /api/v1/campaigns/{id}/leads
func (s *Server) handleAddLeads(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if c.Status != models.CampaignDraft && c.Status != models.CampaignQueued {
		s.sendError(w, http.StatusConflict, "leads can only be added before the campaign starts")
		return
	}

	var req AddLeadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Leads) == 0 {
		s.sendError(w, http.StatusBadRequest, "leads is required")
		return
	}

	leads := make([]models.Lead, 0, len(req.Leads))
	for _, in := range req.Leads {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid email: "+in.Email)
			return
		}
		leads = append(leads, models.Lead{Email: in.Email, Name: in.Name})
	}

	inserted, err := s.leads.BulkInsert(id, leads)
	if err != nil {
		s.logger.Error("failed to insert leads", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to insert leads")
		return
	}

	total, err := s.leads.Count(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to count leads")
		return
	}

	s.logger.Info("leads added", "campaign_id", id, "inserted", inserted, "total", total)
	s.sendJSON(w, http.StatusCreated, AddLeadsResponse{Inserted: inserted, Total: total})
}

// handleStart handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, chi.URLParam(r, "id"), "starting", s.orch.Start)
}

// handlePause handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, chi.URLParam(r, "id"), "pausing", s.orch.Pause)
}

// handleResume handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, chi.URLParam(r, "id"), "resuming", s.orch.Resume)
}

// handleAbort handles POST /api/v1/campaigns/{id}/abort
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.controlAction(w, chi.URLParam(r, "id"), "aborting", s.orch.Abort)
}

// controlAction runs one orchestrator action and reports the fresh
// campaign state. The action returns before the loop finishes; progress
// is polled via GET /campaigns/{id}.
func (s *Server) controlAction(w http.ResponseWriter, id, verb string, action func(string) error) {
	if err := action(id); err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}

	c, err := s.campaigns.GetByID(id)
	if err != nil || c == nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	s.logger.Info("campaign "+verb, "campaign_id", id, "status", c.Status)
	s.sendJSON(w, http.StatusAccepted, campaignResponse(c))
}

// handleRecover handles POST /api/v1/recover
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.Recover()
	if err != nil {
		s.logger.Error("recovery failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "recovery failed")
		return
	}
	s.sendJSON(w, http.StatusOK, report)
}

// handleEvents handles POST /api/v1/events, the delivery-feedback webhook
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		s.sendError(w, http.StatusBadRequest, "events is required")
		return
	}

	s.monitor.Submit(req.Events)
	s.sendJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Events)})
}

// statusFor maps an error kind to an HTTP status code
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimit:
		return http.StatusTooManyRequests
	case errs.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func campaignResponse(c *models.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:             c.ID,
		Name:           c.Name,
		Status:         string(c.Status),
		StatusReason:   c.StatusReason,
		ResumePosition: c.ResumePosition,
		TotalLeads:     c.TotalLeads,
		ProcessedCount: c.ProcessedCount,
		SkippedCount:   c.SkippedCount,
		ErrorCount:     c.ErrorCount,
		PausedAt:       c.PausedAt,
		CompletedAt:    c.CompletedAt,
		CreatedAt:      c.CreatedAt,
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
