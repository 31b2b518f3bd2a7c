package consultation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labourcare/clinic/internal/domain/prescription"
	"github.com/labourcare/clinic/internal/domain/queue"
	"github.com/labourcare/clinic/internal/platform/auth"
)

type Handler struct {
	desk *Desk
}

func NewHandler(desk *Desk) *Handler {
	return &Handler{desk: desk}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("", auth.RequireRole("doctor"))
	doctor.POST("/queue/:id/start", h.Start)
	doctor.POST("/queue/:id/complete", h.Complete)
	doctor.POST("/queue/:id/prescription", h.SubmitPrescription)

	cancelGroup := api.Group("", auth.RequireRole("doctor", "receptionist"))
	cancelGroup.POST("/queue/:id/cancel", h.Cancel)

	readGroup := api.Group("", auth.RequireRole("doctor", "nurse"))
	readGroup.GET("/queue/:id/profile", h.Profile)
}

func (h *Handler) Start(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	out, err := h.desk.Start(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, out)
}

type completeRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.desk.Complete(c.Request().Context(), id, req.Confirm)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	e, err := h.desk.Cancel(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Profile(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	p, err := h.desk.Profile(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SubmitPrescription(c echo.Context) error {
	id, err := entryID(c)
	if err != nil {
		return err
	}
	var note prescription.Note
	if err := c.Bind(&note); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clinician, ok := auth.ClinicianFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	by := prescription.Prescriber{
		ID:             clinician.ID,
		Name:           clinician.Name,
		Specialization: clinician.Specialization,
	}

	sub, err := h.desk.Submit(c.Request().Context(), id, note, by)
	if err != nil {
		return errorResponse(err)
	}
	status := http.StatusCreated
	if sub.Resubmitted {
		status = http.StatusOK
	}
	return c.JSON(status, sub)
}

func entryID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func errorResponse(err error) *echo.HTTPError {
	var verr *prescription.ValidationError
	var terr *queue.TransitionError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
			"field":   verr.Field,
			"message": verr.Error(),
		})
	case errors.Is(err, ErrConfirmationRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &terr):
		return echo.NewHTTPError(http.StatusConflict, map[string]string{
			"message": terr.Error(),
			"status":  string(terr.From),
		})
	default:
		return queue.ErrorResponse(err)
	}
}
