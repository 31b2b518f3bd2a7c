package queue

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labourcare/clinic/internal/platform/auth"
)

type Handler struct {
	svc      *Service
	board    *Board
	patients PatientDirectory
}

func NewHandler(svc *Service, board *Board, patients PatientDirectory) *Handler {
	return &Handler{svc: svc, board: board, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("doctor", "nurse", "receptionist"))
	readGroup.GET("/queue", h.GetQueue)
	readGroup.GET("/queue/:id", h.GetEntry)

	intakeGroup := api.Group("", auth.RequireRole("receptionist", "nurse"))
	intakeGroup.POST("/queue", h.Enqueue)
}

// GetQueue returns the projection of a clinician's day. clinician_id
// defaults to the caller and date to today.
func (h *Handler) GetQueue(c echo.Context) error {
	clinicianID, err := h.clinicianParam(c, c.QueryParam("clinician_id"))
	if err != nil {
		return err
	}
	day := h.svc.Today()
	if d := c.QueryParam("date"); d != "" {
		if day, err = ParseDay(d); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	snap, err := h.board.Snapshot(c.Request().Context(), clinicianID, day)
	if err != nil && snap.LoadedAt.IsZero() {
		return ErrorResponse(err)
	}
	// A stale snapshot of an earlier load is still a view; the warning
	// travels with it.
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return ErrorResponse(err)
	}
	return c.JSON(http.StatusOK, e)
}

type intakeRequest struct {
	ClinicianID    string  `json:"clinician_id"`
	FamilyMemberID string  `json:"family_member_id"`
	QueueDate      string  `json:"queue_date"`
	Notes          *string `json:"notes"`
}

// Enqueue admits a household member to a clinician's queue.
func (h *Handler) Enqueue(c echo.Context) error {
	var req intakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clinicianID, err := h.clinicianParam(c, req.ClinicianID)
	if err != nil {
		return err
	}
	memberID, err := uuid.Parse(req.FamilyMemberID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid family_member_id")
	}
	var day time.Time
	if req.QueueDate != "" {
		if day, err = ParseDay(req.QueueDate); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	patient, err := h.patients.Patient(c.Request().Context(), memberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "family member not found")
		}
		return ErrorResponse(err)
	}

	e := &Entry{ClinicianID: clinicianID, QueueDate: day, Patient: *patient, Notes: req.Notes}
	if err := h.svc.Enqueue(c.Request().Context(), e); err != nil {
		return ErrorResponse(err)
	}
	h.board.Invalidate(c.Request().Context(), e.ClinicianID, e.QueueDate)
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) clinicianParam(c echo.Context, raw string) (uuid.UUID, error) {
	if raw == "" {
		caller, ok := auth.ClinicianFromContext(c.Request().Context())
		if !ok {
			return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "clinician_id is required")
		}
		return caller.ID, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid clinician_id")
	}
	return id, nil
}

// ErrorResponse maps queue errors onto HTTP statuses.
func ErrorResponse(err error) *echo.HTTPError {
	var ferr *FetchError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidEntry):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &ferr):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue store unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
