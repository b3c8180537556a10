package datasets

import (
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/settings"
)

func (h *Handler) GetConfig(c echo.Context) error {
	cfg, err := h.service.GetConfig(c.Request().Context(), scope(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

// UpdateConfig replaces the dataset config. The body may be JSON or YAML and unknown keys are rejected.
func (h *Handler) UpdateConfig(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}

	cfg, err := settings.Parse(body)
	if err != nil {
		return err
	}

	if err := h.service.UpdateConfig(c.Request().Context(), scope(c), cfg); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}
