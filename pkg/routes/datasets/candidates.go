package datasets

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// ListCandidates lists pending candidates, highest score first, optionally for one tier
func (h *Handler) ListCandidates(c echo.Context) error {
	candidates, err := h.service.GetCandidates(c.Request().Context(), scope(c), tierParam(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, candidates)
}

func (h *Handler) GetCandidate(c echo.Context) error {
	candidate, err := h.service.GetCandidate(c.Request().Context(), scope(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, candidate)
}

// AcceptCandidate confirms a candidate and returns the created match
func (h *Handler) AcceptCandidate(c echo.Context) error {
	match, err := h.service.AcceptMatch(c.Request().Context(), scope(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, match)
}

func (h *Handler) RejectCandidate(c echo.Context) error {
	var req models.RejectCandidateRequest
	if c.Request().ContentLength != 0 {
		var err error
		if req, err = utils.BindRequest[models.RejectCandidateRequest](c); err != nil {
			return err
		}
	}

	if err := h.service.RejectMatch(c.Request().Context(), scope(c), c.Param("id"), req.Reason); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(models.CandidateStatusRejected)})
}
