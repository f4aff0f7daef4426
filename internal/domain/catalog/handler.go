package catalog

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
	api.GET("/procedures", h.ListProcedures)
	api.GET("/procedures/:id", h.GetProcedure)
	api.GET("/insurance-plans", h.ListPlans)
	api.GET("/insurance-plans/:id", h.GetPlan)
	api.GET("/insurance-plans/:id/procedures", h.ListPlanPrices)

	admin := auth.RequireAdmin()
	api.POST("/procedures", h.CreateProcedure, admin)
	api.PUT("/procedures/:id", h.UpdateProcedure, admin)
	api.DELETE("/procedures/:id", h.DeleteProcedure, admin)
	api.POST("/insurance-plans", h.CreatePlan, admin)
	api.PUT("/insurance-plans/:id", h.UpdatePlan, admin)
	api.DELETE("/insurance-plans/:id", h.DeletePlan, admin)
	api.PUT("/insurance-plans/:id/procedures/:procedureId", h.SetPlanPrice, admin)
	api.DELETE("/insurance-plans/:id/procedures/:procedureId", h.RemovePlanPrice, admin)
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid %s", name)
	}
	return id, nil
}

// activeOnly hides inactive records unless an administrator asks for them.
func activeOnly(c echo.Context) bool {
	if inc, _ := strconv.ParseBool(c.QueryParam("include_inactive")); inc {
		if id, ok := auth.IdentityFromContext(c.Request().Context()); ok && id.IsAdmin() {
			return false
		}
	}
	return true
}

// -- Procedure Handlers --

func (h *Handler) CreateProcedure(c echo.Context) error {
	var in ProcedureInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.CreateProcedure(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProcedure(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetProcedure(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProcedures(c.Request().Context(), activeOnly(c), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

func (h *Handler) UpdateProcedure(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in ProcedureInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.UpdateProcedure(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProcedure(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteProcedure(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Insurance Plan Handlers --

func (h *Handler) CreatePlan(c echo.Context) error {
	var in PlanInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.CreatePlan(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPlan(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPlan(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPlans(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPlans(c.Request().Context(), activeOnly(c), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

func (h *Handler) UpdatePlan(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	var in PlanInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.UpdatePlan(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePlan(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePlan(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Plan Price Handlers --

func (h *Handler) ListPlanPrices(c echo.Context) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPlanPrices(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*PlanPrice{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetPlanPrice(c echo.Context) error {
	planID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	procID, err := parseUUIDParam(c, "procedureId")
	if err != nil {
		return err
	}
	var in PlanPriceInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	pp, err := h.svc.SetPlanPrice(c.Request().Context(), planID, procID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pp)
}

func (h *Handler) RemovePlanPrice(c echo.Context) error {
	planID, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	procID, err := parseUUIDParam(c, "procedureId")
	if err != nil {
		return err
	}
	if err := h.svc.RemovePlanPrice(c.Request().Context(), planID, procID); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
