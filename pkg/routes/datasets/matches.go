package datasets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

func (h *Handler) ListMatches(c echo.Context) error {
	matches, err := h.service.GetMatches(c.Request().Context(), scope(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, matches)
}

// CreateManualMatch creates a match from explicit item groups. Amount mismatches come back as warnings.
func (h *Handler) CreateManualMatch(c echo.Context) error {
	req, err := utils.BindRequest[models.ManualMatchRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.CreateManualMatch(c.Request().Context(), scope(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) GetMatch(c echo.Context) error {
	match, err := h.service.GetMatch(c.Request().Context(), scope(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, match)
}

// Unmatch removes a match and returns its items to the unmatched pool
func (h *Handler) Unmatch(c echo.Context) error {
	var req models.UnmatchRequest
	if c.Request().ContentLength != 0 {
		var err error
		if req, err = utils.BindRequest[models.UnmatchRequest](c); err != nil {
			return err
		}
	}

	if err := h.service.Unmatch(c.Request().Context(), scope(c), c.Param("id"), req.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
