package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecgstack/ecg-engine/internal/models"
	"github.com/ecgstack/ecg-engine/internal/services"
)

// Handler exposes the diagnostic core over REST JSON.
type Handler struct {
	logger  *slog.Logger
	service *services.DiagnosisService
}

// NewHandler constructs the HTTP handler set.
func NewHandler(logger *slog.Logger, service *services.DiagnosisService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// Register mounts all routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/v1/ecg")
	{
		api.POST("/diagnose", h.diagnose)
		api.POST("/explain", h.explain)
		api.POST("/stress-test", h.stressTest)
		api.POST("/report", h.report)
		api.GET("/model-card", h.modelCard)
		api.GET("/cases", h.cases)
		api.GET("/cases/:id", h.caseByID)
		api.GET("/cases/:id/prediction", h.casePrediction)
		api.GET("/robustness-summary", h.robustnessSummary)
		api.GET("/calibration", h.calibration)
		api.GET("/roc-pr-curves", h.rocPRCurves)
		api.GET("/demographic-analysis", h.demographicAnalysis)
	}
}

type waveformPayload struct {
	SamplingRate float64              `json:"sampling_rate"`
	Leads        map[string][]float64 `json:"leads" binding:"required"`
}

func (p waveformPayload) toModel() models.RawWaveform {
	return models.RawWaveform{SamplingRate: p.SamplingRate, Leads: p.Leads}
}

type diagnoseRequest struct {
	Waveform     waveformPayload        `json:"waveform" binding:"required"`
	Demographics models.RawDemographics `json:"demographics"`
}

type explainRequest struct {
	diagnoseRequest
	TargetClass string `json:"target_class"`
}

type stressTestRequest struct {
	diagnoseRequest
	Spec models.StressSpec `json:"spec"`
}

func (h *Handler) diagnose(c *gin.Context) {
	var req diagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	result, err := h.service.Diagnose(c.Request.Context(), req.Waveform.toModel(), req.Demographics)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) explain(c *gin.Context) {
	var req explainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	result, err := h.service.Explain(c.Request.Context(), req.Waveform.toModel(), req.Demographics, req.TargetClass)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) stressTest(c *gin.Context) {
	var req stressTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	report, err := h.service.StressTest(c.Request.Context(), req.Waveform.toModel(), req.Demographics, req.Spec)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) report(c *gin.Context) {
	var req diagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	report, err := h.service.Report(c.Request.Context(), req.Waveform.toModel(), req.Demographics)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) modelCard(c *gin.Context) {
	card, ok := h.service.ModelCard()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "model card not available"})
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *Handler) cases(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Cases())
}

func (h *Handler) caseByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "case id must be an integer"})
		return
	}
	demoCase, ok := h.service.Case(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "case " + c.Param("id") + " not found"})
		return
	}
	c.JSON(http.StatusOK, demoCase)
}

// casePredictionResponse is the prediction-only view of a curated case.
type casePredictionResponse struct {
	CaseID         int                `json:"case_id"`
	PredictedClass string             `json:"predicted_class"`
	Confidence     float64            `json:"confidence"`
	Predictions    map[string]float64 `json:"predictions"`
	TrueClass      string             `json:"true_class"`
}

func (h *Handler) casePrediction(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "case id must be an integer"})
		return
	}
	demoCase, ok := h.service.Case(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "case " + c.Param("id") + " not found"})
		return
	}
	c.JSON(http.StatusOK, casePredictionResponse{
		CaseID:         demoCase.CaseID,
		PredictedClass: demoCase.PredictedClass,
		Confidence:     demoCase.Confidence,
		Predictions:    demoCase.Predictions,
		TrueClass:      demoCase.TrueClass,
	})
}

func (h *Handler) calibration(c *gin.Context) {
	doc, ok := h.service.Calibration()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "calibration data not available"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (h *Handler) rocPRCurves(c *gin.Context) {
	doc, ok := h.service.Curves()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "curve data not available"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (h *Handler) demographicAnalysis(c *gin.Context) {
	doc, ok := h.service.DemographicAnalysis()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "demographic analysis not available"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (h *Handler) robustnessSummary(c *gin.Context) {
	summary, ok := h.service.RobustnessSummary()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "robustness summary not available"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"model_version": h.service.ModelVersion(),
		"classes":       h.service.Classes(),
		"startup_time":  h.service.StartedAt().Format(time.RFC3339),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// abortWithError maps core error kinds onto HTTP status codes. Validation
// defects are the caller's to fix; everything else is a request-level
// failure that leaves the process healthy.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidSignal), errors.Is(err, models.ErrInvalidDemographics):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrAttribution):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}
