package decision

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/logging"
	"github.com/securewatch/securewatch/internal/report"
	"github.com/securewatch/securewatch/internal/security"
	"github.com/securewatch/securewatch/internal/signals"
	"github.com/securewatch/securewatch/internal/validation"
)

// FeedbackRequest is the body of POST /security/feedback.
type FeedbackRequest struct {
	LogID  string `json:"log_id" binding:"required"`
	Action string `json:"action" binding:"required,oneof=verify_safe confirm_fraud"`
}

// Handler provides the /security HTTP endpoints.
type Handler struct {
	service     *Service
	renderer    report.Renderer
	adminSecret string
}

// NewHandler creates a new decision handler. adminSecret guards the reset
// endpoint when non-empty.
func NewHandler(service *Service, renderer report.Renderer, adminSecret string) *Handler {
	validation.RegisterValidators()
	return &Handler{service: service, renderer: renderer, adminSecret: adminSecret}
}

// RegisterRoutes sets up the decision and incident routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze-login", h.AnalyzeLogin)
	r.GET("/history", h.History)
	r.GET("/incidents/:id", h.GetIncident)
	r.POST("/feedback", h.Feedback)
	r.GET("/report/:id", h.Report)
	r.POST("/reset", security.AdminSecretMiddleware(h.adminSecret), h.Reset)
}

// AnalyzeLogin handles POST /security/analyze-login
func (h *Handler) AnalyzeLogin(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, validation.FromBindingError(err))
		return
	}
	if req.IP == "" {
		req.IP = c.ClientIP()
	}

	res, err := h.service.Analyze(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			invalid(c, verrs)
		case errors.Is(err, signals.ErrUnavailable):
			logging.L(c.Request.Context()).Warn("signal provider unavailable", "user_id", req.UserID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "signal_unavailable",
				"message": "Risk signals could not be obtained; the attempt was not recorded",
			})
		default:
			logging.L(c.Request.Context()).Error("analyze failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to analyze login",
			})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

// History handles GET /security/history. The body is a bare array, newest first.
func (h *Handler) History(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.History())
}

// GetIncident handles GET /security/incidents/:id
func (h *Handler) GetIncident(c *gin.Context) {
	rec, err := h.service.Incident(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Feedback handles POST /security/feedback
func (h *Handler) Feedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, validation.FromBindingError(err))
		return
	}

	rec, err := h.service.Feedback(c.Request.Context(), req.LogID, incidents.Action(req.Action))
	if err != nil {
		if errors.Is(err, incidents.ErrInvalidAction) {
			invalid(c, validation.ValidationErrors{{Field: "action", Message: err.Error()}})
			return
		}
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Report handles GET /security/report/:id
func (h *Handler) Report(c *gin.Context) {
	rec, err := h.service.Incident(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}

	doc, err := h.renderer.Render(rec)
	if err != nil {
		logging.L(c.Request.Context()).Error("report rendering failed", "incident_id", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "report_failed",
			"message": "Failed to render report",
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(h.renderer, rec.ID)+`"`)
	c.Data(http.StatusOK, h.renderer.ContentType(), doc)
}

// Reset handles POST /security/reset
func (h *Handler) Reset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.service.Reset(c.Request.Context())})
}

func invalid(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": errs.Error(),
		"fields":  errs,
	})
}

func notFound(c *gin.Context, err error) {
	if errors.Is(err, incidents.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Incident not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
