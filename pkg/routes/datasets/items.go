package datasets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// IngestItems upserts a batch of items. The batch is applied atomically.
func (h *Handler) IngestItems(c echo.Context) error {
	req, err := utils.BindRequest[models.IngestItemsRequest](c)
	if err != nil {
		return err
	}

	if err := h.service.IngestItems(c.Request().Context(), scope(c), req.Items); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]int{"ingested": len(req.Items)})
}

func (h *Handler) GetUnmatchedItems(c echo.Context) error {
	side, err := sideParam(c)
	if err != nil {
		return err
	}

	items, err := h.service.GetUnmatchedItems(c.Request().Context(), scope(c), side)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}
