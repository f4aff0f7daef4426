package scheduling

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.CreateAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/availability", h.CheckAvailability)
	api.GET("/appointments/mine", h.ListMyAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id", h.UpdateAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateStatus, auth.RequireAdmin())
	api.DELETE("/appointments/:id", h.CancelAppointment)
}

// optionalUUID reads the first non-empty query parameter among names.
func optionalUUID(c echo.Context, names ...string) (*uuid.UUID, error) {
	for _, name := range names {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, apperr.BadRequest("invalid %s", name)
		}
		return &id, nil
	}
	return nil, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	a, err := h.svc.Create(c.Request().Context(), caller, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), caller, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments accepts ?date=YYYY-MM-DD or ?start=&end=, plus an
// optional professional filter.
func (h *Handler) ListAppointments(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	profID, err := optionalUUID(c, "professionalId", "professional_id")
	if err != nil {
		return err
	}
	q := WindowQuery{
		Date:           c.QueryParam("date"),
		Start:          c.QueryParam("start"),
		End:            c.QueryParam("end"),
		ProfessionalID: profID,
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByWindow(c.Request().Context(), caller, q, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

func (h *Handler) ListMyAppointments(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	includePast, _ := strconv.ParseBool(c.QueryParam("include_past"))
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMine(c.Request().Context(), caller, includePast, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

type availabilityResponse struct {
	Available bool           `json:"available"`
	Conflicts []conflictView `json:"conflicts"`
}

// CheckAvailability is a read-only lookup. Omitting professionalId checks the
// unassigned bucket.
func (h *Handler) CheckAvailability(c echo.Context) error {
	profID, err := optionalUUID(c, "professionalId", "professional_id")
	if err != nil {
		return err
	}
	excludeID, err := optionalUUID(c, "excludeAppointmentId", "exclude_appointment_id")
	if err != nil {
		return err
	}
	res, err := h.svc.Availability(c.Request().Context(), AvailabilityQuery{
		ProfessionalID: profID,
		Start:          c.QueryParam("start"),
		End:            c.QueryParam("end"),
		ExcludeID:      excludeID,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{
		Available: !res.HasConflict,
		Conflicts: conflictViews(res.Conflicts),
	})
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	a, err := h.svc.Update(c.Request().Context(), caller, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// CancelAppointment answers DELETE with a soft cancel.
func (h *Handler) CancelAppointment(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.Cancel(c.Request().Context(), caller, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
