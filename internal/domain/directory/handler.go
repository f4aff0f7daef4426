package directory

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
	// Clients: any signed-in user, scoped to the records they own.
	api.POST("/clients", h.CreateClient)
	api.GET("/clients", h.ListClients)
	api.GET("/clients/:id", h.GetClient)
	api.PUT("/clients/:id", h.UpdateClient)
	api.DELETE("/clients/:id", h.DeleteClient)

	api.GET("/professionals", h.ListProfessionals)
	api.GET("/professionals/:id", h.GetProfessional)

	admin := auth.RequireAdmin()
	api.POST("/professionals", h.CreateProfessional, admin)
	api.PUT("/professionals/:id", h.UpdateProfessional, admin)
	api.DELETE("/professionals/:id", h.DeleteProfessional, admin)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

// -- Client Handlers --

func (h *Handler) CreateClient(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	var in ClientInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	client, err := h.svc.CreateClient(c.Request().Context(), caller, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, client)
}

func (h *Handler) GetClient(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	client, err := h.svc.GetClient(c.Request().Context(), caller, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, client)
}

func (h *Handler) ListClients(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ClientFilter{Search: c.QueryParam("search"), Status: c.QueryParam("status")}
	items, total, err := h.svc.ListClients(c.Request().Context(), caller, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

func (h *Handler) UpdateClient(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ClientInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	client, err := h.svc.UpdateClient(c.Request().Context(), caller, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, client)
}

func (h *Handler) DeleteClient(c echo.Context) error {
	caller, err := auth.RequireIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteClient(c.Request().Context(), caller, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Professional Handlers --

func (h *Handler) CreateProfessional(c echo.Context) error {
	var in ProfessionalInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.CreateProfessional(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProfessional(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfessional(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// ListProfessionals shows active professionals; administrators may pass
// include_inactive=true.
func (h *Handler) ListProfessionals(c echo.Context) error {
	activeOnly := true
	if inc, _ := strconv.ParseBool(c.QueryParam("include_inactive")); inc {
		if id, ok := auth.IdentityFromContext(c.Request().Context()); ok && id.IsAdmin() {
			activeOnly = false
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProfessionals(c.Request().Context(), activeOnly, c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c))
}

func (h *Handler) UpdateProfessional(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ProfessionalInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.UpdateProfessional(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProfessional(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteProfessional(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
