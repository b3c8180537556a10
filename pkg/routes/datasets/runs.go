package datasets

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Rerun runs a full reconciliation pass for the dataset
func (h *Handler) Rerun(c echo.Context) error {
	result, err := h.service.RerunReconciliation(c.Request().Context(), scope(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSummary(c echo.Context) error {
	summary, err := h.service.GetSummary(c.Request().Context(), scope(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ListAudit(c echo.Context) error {
	limit, err := limitParam(c)
	if err != nil {
		return err
	}

	entries, err := h.service.ListAudit(c.Request().Context(), scope(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) ExportReport(c echo.Context) error {
	body, contentType, err := h.service.ExportReport(c.Request().Context(), scope(c), c.QueryParam("format"))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, contentType, body)
}
