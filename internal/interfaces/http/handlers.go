package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/guard"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	appwf "github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	lifecycle appwf.ReportLifecycle
	auth      service.AuthService
	queries   service.QueryService
	demo      service.DemoService
	users     port.UserRepository
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		lifecycle: services.Lifecycle,
		auth:      services.Auth,
		queries:   services.Queries,
		demo:      services.Demo,
		users:     services.Users,
		logger:    logger,
	}
}

// HealthCheck handles GET / and GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// ResetDemo handles POST /api/demo/reset
func (h *Handlers) ResetDemo(c *gin.Context) {
	if h.demo == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: "demo reset is disabled"})
		return
	}

	if err := h.demo.Reset(c.Request.Context()); err != nil {
		h.logger.Error("Demo reset failed", "error", err)
		c.String(http.StatusInternalServerError, "Demo reset failed: %s", err.Error())
		return
	}

	h.logger.Info("Demo data reset", "client_ip", clientIP(c.Request))
	c.String(http.StatusOK, "OK")
}

// Login handles POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if !bindBody(c, &req) {
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SearchReports handles GET /api/expense-reports/search
func (h *Handlers) SearchReports(c *gin.Context) {
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	params := service.SearchParams{
		Text: c.Query("q"),
		Sort: strings.TrimSpace(c.Query("sort")),
	}

	statuses, ok := parseStatuses(c)
	if !ok {
		return
	}
	params.Statuses = statuses

	if raw := strings.TrimSpace(c.Query("flagged")); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "flagged must be true or false")
			return
		}
		params.Flagged = &flagged
	}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		params.Limit = limit
	}

	summaries, err := h.queries.Search(c.Request.Context(), actor, params)
	if err != nil {
		h.respondError(c, "search", err)
		return
	}

	c.JSON(http.StatusOK, newSummaryResponses(summaries))
}

// PendingApproval handles GET /api/expense-reports/pending-approval
func (h *Handlers) PendingApproval(c *gin.Context) {
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	summaries, err := h.queries.PendingApproval(c.Request.Context(), actor)
	if err != nil {
		h.respondError(c, "pending_approval", err)
		return
	}

	c.JSON(http.StatusOK, newSummaryResponses(summaries))
}

// Stats handles GET /api/expense-reports/stats
func (h *Handlers) Stats(c *gin.Context) {
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	stats, err := h.queries.Stats(c.Request.Context(), actor)
	if err != nil {
		h.respondError(c, "stats", err)
		return
	}

	c.JSON(http.StatusOK, newStatsResponse(stats))
}

// ListReports handles GET /api/expense-reports. Without requesterId the submitter lists their own reports.
func (h *Handlers) ListReports(c *gin.Context) {
	submitterID, ok := optionalID(c, "submitterId", c.Query("submitterId"))
	if !ok {
		return
	}
	requesterID, ok := optionalID(c, "requesterId", c.Query("requesterId"))
	if !ok {
		return
	}
	if requesterID == 0 {
		requesterID = submitterID
	}

	actor, ok := resolveActor(c, requesterID, c.Query("requesterRole"))
	if !ok {
		return
	}
	if submitterID == 0 {
		submitterID = actor.ID
	}

	status := workflow.State(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	summaries, err := h.queries.ListBySubmitter(c.Request.Context(), actor, submitterID, status)
	if err != nil {
		h.respondError(c, "list_reports", err)
		return
	}

	c.JSON(http.StatusOK, newSummaryResponses(summaries))
}

// GetReport handles GET /api/expense-reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	report, err := h.lifecycle.Get(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, "get_report", err)
		return
	}

	ids := []int64{report.SubmitterID}
	if report.ApproverID != nil {
		ids = append(ids, *report.ApproverID)
	}
	c.JSON(http.StatusOK, newReportResponse(report, h.userNames(c.Request.Context(), ids...)))
}

// CreateReport handles POST /api/expense-reports
func (h *Handlers) CreateReport(c *gin.Context) {
	var req ReportRequest
	if !bindBody(c, &req) {
		return
	}
	actor, ok := resolveActor(c, req.SubmitterID, "")
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.respondError(c, "create_report", err)
		return
	}

	report, err := h.lifecycle.Create(c.Request.Context(), actor, input)
	if err != nil {
		h.respondError(c, "create_report", err)
		return
	}

	c.JSON(http.StatusCreated, report.ID)
}

// UpdateReport handles PUT /api/expense-reports/:id
func (h *Handlers) UpdateReport(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	var req ReportRequest
	if !bindBody(c, &req) {
		return
	}
	actor, ok := resolveActor(c, req.SubmitterID, "")
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.respondError(c, "update_report", err)
		return
	}

	status, err := h.lifecycle.Update(c.Request.Context(), id, actor, input)
	if err != nil {
		h.respondError(c, "update_report", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// SubmitReport handles POST /api/expense-reports/:id/submit
func (h *Handlers) SubmitReport(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if !bindBody(c, &req) {
		return
	}
	actor, ok := resolveActor(c, req.SubmitterID, "")
	if !ok {
		return
	}

	status, err := h.lifecycle.Submit(c.Request.Context(), id, actor, req.toReasons())
	if err != nil {
		h.respondError(c, "submit_report", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ApproveReport handles POST /api/expense-reports/:id/approve
func (h *Handlers) ApproveReport(c *gin.Context) {
	h.decideChain(c, "approve_report", h.lifecycle.Approve)
}

// RejectReport handles POST /api/expense-reports/:id/reject
func (h *Handlers) RejectReport(c *gin.Context) {
	h.decideChain(c, "reject_report", h.lifecycle.Reject)
}

type chainDecision func(ctx context.Context, reportID int64, actor guard.Actor, comment string) (workflow.State, error)

func (h *Handlers) decideChain(c *gin.Context, op string, decide chainDecision) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	var req ApprovalRequest
	if !bindBody(c, &req) {
		return
	}
	actor, ok := resolveActor(c, req.ApproverID, req.ApproverRole)
	if !ok {
		return
	}

	status, err := decide(c.Request.Context(), id, actor, req.Comment)
	if err != nil {
		h.respondError(c, op, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetSpecialReview handles GET /api/expense-reports/:id/special-review
func (h *Handlers) GetSpecialReview(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	detail, err := h.lifecycle.SpecialReview(c.Request.Context(), id, actor)
	if err != nil {
		h.respondNotFoundAsBadRequest(c, "get_special_review", err)
		return
	}

	c.JSON(http.StatusOK, newSpecialReviewResponse(detail))
}

// DecideSpecialReview handles POST /api/expense-reports/:id/special-review/decide
func (h *Handlers) DecideSpecialReview(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	var req DecideRequest
	if !bindBody(c, &req) {
		return
	}
	actor, ok := resolveActor(c, req.ReviewerID, req.ReviewerRole)
	if !ok {
		return
	}
	decisions, err := req.toDecisions()
	if err != nil {
		h.respondError(c, "decide_special_review", err)
		return
	}

	status, err := h.lifecycle.DecideSpecialReview(c.Request.Context(), id, actor, req.ReviewerComment, decisions)
	if err != nil {
		h.respondError(c, "decide_special_review", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// SubmitterFeedback handles GET /api/expense-reports/:id/submitter-feedback
func (h *Handlers) SubmitterFeedback(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	feedback, err := h.lifecycle.SubmitterFeedback(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, "submitter_feedback", err)
		return
	}

	c.JSON(http.StatusOK, newFeedbackResponse(feedback))
}

// AuditLog handles GET /api/expense-reports/:id/audit-log
func (h *Handlers) AuditLog(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	actor, ok := queryActor(c)
	if !ok {
		return
	}

	logs, err := h.lifecycle.AuditLog(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, "audit_log", err)
		return
	}

	c.JSON(http.StatusOK, newAuditLogResponses(logs))
}

// userNames looks up display names. Lookup failures leave the name blank.
func (h *Handlers) userNames(ctx context.Context, ids ...int64) map[int64]string {
	names := make(map[int64]string, len(ids))
	if h.users == nil {
		return names
	}
	for _, id := range ids {
		if _, done := names[id]; done {
			continue
		}
		user, err := h.users.GetByID(ctx, id)
		if err != nil {
			h.logger.Error("Failed to load user name", "user_id", id, "error", err)
			continue
		}
		if user != nil {
			names[id] = user.Name
		}
	}
	return names
}

// bindBody decodes a JSON body. An empty body leaves req at its zero value.
func bindBody(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body: %v", err)
		return false
	}
	return true
}

// parseStatuses accepts repeated or comma-separated status parameters
func parseStatuses(c *gin.Context) ([]workflow.State, bool) {
	var statuses []workflow.State
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			state, err := workflow.ParseState(part)
			if err != nil {
				badRequest(c, "unknown status %q", part)
				return nil, false
			}
			statuses = append(statuses, state)
		}
	}
	return statuses, true
}
