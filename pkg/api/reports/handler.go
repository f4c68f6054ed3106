// Package reports exposes pipeline runs and their artifacts over HTTP.
package reports

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"strings"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/export"
	"annualreports/pkg/core/pipeline"
	"annualreports/pkg/core/store"
	"annualreports/pkg/core/vocab"
	"annualreports/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Runner starts background runs.
type Runner interface {
	Start(ctx context.Context, companyID, irURL string) (string, error)
}

// Records reads consolidated records.
type Records interface {
	Load(ctx context.Context, companyID string) (*models.ConsolidatedFinancials, error)
	Companies(ctx context.Context) ([]string, error)
}

// Handler holds dependencies for report endpoints
type Handler struct {
	Runner     Runner
	Tracker    *pipeline.Tracker
	Records    Records
	Vocabulary *vocab.Vocabulary
	Logger     *zap.Logger
}

// NewHandler creates a new report handler
func NewHandler(runner Runner, tracker *pipeline.Tracker, records Records, v *vocab.Vocabulary, logger *zap.Logger) *Handler {
	if v == nil {
		v = vocab.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Runner: runner, Tracker: tracker, Records: records, Vocabulary: v, Logger: logger}
}

// RunRequest starts a run. Company is only read by POST /api/runs.
type RunRequest struct {
	IRURL   string `json:"ir_url" binding:"required"`
	Company string `json:"company"`
}

type RunResponse struct {
	RunID     string `json:"run_id"`
	CompanyID string `json:"company_id"`
	StatusURL string `json:"status_url"`
}

// CompanySummary is one entry of GET /api/companies.
type CompanySummary struct {
	CompanyID     string `json:"company_id"`
	HasFinancials bool   `json:"has_financials"`
	State         string `json:"state,omitempty"`
}

// Register adds the report routes to r.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/runs", h.HandleStartRun)
	api.GET("/companies", h.HandleListCompanies)
	api.POST("/companies/:id/runs", h.HandleStartRun)
	api.GET("/companies/:id/status", h.HandleStatus)
	api.GET("/companies/:id/financials", h.HandleFinancials)
	api.GET("/companies/:id/export.csv", h.HandleExport)
	api.GET("/compare.csv", h.HandleCompare)
}

// HandleStartRun handles POST /api/companies/:id/runs and POST /api/runs.
// Returns 202 with the run id, or 409 while the company is already running.
func (h *Handler) HandleStartRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	companyID := c.Param("id")
	if companyID == "" {
		companyID = req.Company
	}
	if companyID == "" {
		derived, err := pipeline.DeriveCompanyID(req.IRURL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		companyID = derived
	}
	if !store.ValidCompanyID(companyID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company id"})
		return
	}
	if !strings.HasPrefix(req.IRURL, "http://") && !strings.HasPrefix(req.IRURL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ir_url must be an http(s) url"})
		return
	}

	runID, err := h.Runner.Start(c.Request.Context(), companyID, req.IRURL)
	if err != nil {
		if eris.Is(err, errs.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": errs.Kind(err)})
			return
		}
		h.Logger.Error("failed to start run", zap.String("company", companyID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, RunResponse{
		RunID:     runID,
		CompanyID: companyID,
		StatusURL: "/api/companies/" + companyID + "/status",
	})
}

// HandleStatus handles GET /api/companies/:id/status
func (h *Handler) HandleStatus(c *gin.Context) {
	status, ok := h.Tracker.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded for this company"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleListCompanies handles GET /api/companies
func (h *Handler) HandleListCompanies(c *gin.Context) {
	ids, err := h.Records.Companies(c.Request.Context())
	if err != nil {
		h.Logger.Error("failed to list companies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	byID := make(map[string]*CompanySummary)
	for _, id := range ids {
		byID[id] = &CompanySummary{CompanyID: id, HasFinancials: true}
	}
	for _, s := range h.Tracker.List() {
		if _, ok := byID[s.CompanyID]; !ok {
			byID[s.CompanyID] = &CompanySummary{CompanyID: s.CompanyID}
		}
		byID[s.CompanyID].State = s.State
	}

	out := make([]CompanySummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	c.JSON(http.StatusOK, gin.H{"companies": out})
}

// HandleFinancials handles GET /api/companies/:id/financials
func (h *Handler) HandleFinancials(c *gin.Context) {
	rec, ok := h.load(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleExport handles GET /api/companies/:id/export.csv
func (h *Handler) HandleExport(c *gin.Context) {
	id := c.Param("id")
	rec, ok := h.load(c, id)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCompany(&buf, rec, h.Vocabulary); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.CompanyFileName(id)+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// HandleCompare handles GET /api/compare.csv?companies=a,b
func (h *Handler) HandleCompare(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("companies"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			if !store.ValidCompanyID(id) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company id " + id})
				return
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companies query parameter is required"})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteComparative(c.Request.Context(), &buf, ids, h.Records, h.Vocabulary); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="comparison.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) load(c *gin.Context, id string) (*models.ConsolidatedFinancials, bool) {
	if !store.ValidCompanyID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company id"})
		return nil, false
	}
	rec, err := h.Records.Load(c.Request.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no consolidated financials for " + id})
			return nil, false
		}
		h.Logger.Error("failed to load financials", zap.String("company", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return rec, true
}
