package datasets

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconcile"
)

// Handler serves the dataset-scoped reconciliation API
type Handler struct {
	service *reconcile.Service
}

func NewHandler(service *reconcile.Service) *Handler {
	return &Handler{service: service}
}

// Register registers the dataset routes on a group mounted at /datasets
func (h *Handler) Register(g *echo.Group) {
	d := g.Group("/:dataset")

	d.POST("/items", h.IngestItems)
	d.GET("/items/unmatched", h.GetUnmatchedItems)

	d.GET("/candidates", h.ListCandidates)
	d.GET("/candidates/:id", h.GetCandidate)
	d.POST("/candidates/:id/accept", h.AcceptCandidate)
	d.POST("/candidates/:id/reject", h.RejectCandidate)

	d.GET("/matches", h.ListMatches)
	d.POST("/matches", h.CreateManualMatch)
	d.GET("/matches/:id", h.GetMatch)
	d.DELETE("/matches/:id", h.Unmatch)

	d.GET("/config", h.GetConfig)
	d.PUT("/config", h.UpdateConfig)

	d.POST("/runs", h.Rerun)
	d.GET("/summary", h.GetSummary)
	d.GET("/audit", h.ListAudit)
	d.GET("/report", h.ExportReport)
}

func scope(c echo.Context) models.Scope {
	return context.GetScope(c.Request().Context(), c.Param("dataset"))
}

func sideParam(c echo.Context) (*models.Side, error) {
	raw := c.QueryParam("side")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid side '%s': must be 1 or 2", raw)
	}
	side := models.Side(n)
	return &side, nil
}

func tierParam(c echo.Context) *models.DecisionTier {
	raw := c.QueryParam("tier")
	if raw == "" {
		return nil
	}
	tier := models.DecisionTier(raw)
	return &tier
}

func limitParam(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 100, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid limit '%s'", raw)
	}
	return n, nil
}
