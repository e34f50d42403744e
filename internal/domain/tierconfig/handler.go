package tierconfig

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
)

type Handler struct {
	resolver *Resolver
}

func NewHandler(r *Resolver) *Handler {
	return &Handler{resolver: r}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/prices/resolve", h.ResolvePrice)
	api.GET("/policies/registration", h.GetRegistrationPolicy)
	api.GET("/policies/schedule", h.GetSchedulePolicy)

	admin := api.Group("/config", auth.RequireCapability(auth.CapManageSchedule))
	admin.GET("/:key", h.List)
	admin.PUT("/:key", h.Put)
	admin.DELETE("/:key", h.Deactivate)
}

type putRequest struct {
	Scope   Scope           `json:"scope" validate:"required,oneof=GLOBAL MINOR_DEPT CLINIC DOCTOR"`
	ScopeID *int64          `json:"scope_id"`
	Value   json.RawMessage `json:"value" validate:"required"`
}

func targetFromQuery(c echo.Context) (Target, error) {
	var t Target
	doctor, err := httpx.QueryID(c, "doctor_id")
	if err != nil {
		return t, err
	}
	clinic, err := httpx.QueryID(c, "clinic_id")
	if err != nil {
		return t, err
	}
	minor, err := httpx.QueryID(c, "minor_dept_id")
	if err != nil {
		return t, err
	}
	if doctor != nil {
		t.DoctorID = *doctor
	}
	if clinic != nil {
		t.ClinicID = *clinic
	}
	t.MinorDeptID = minor
	return t, nil
}

func (h *Handler) ResolvePrice(c echo.Context) error {
	t, err := targetFromQuery(c)
	if err != nil {
		return err
	}
	explicit := decimal.Zero
	if raw := c.QueryParam("price"); raw != "" {
		if explicit, err = decimal.NewFromString(raw); err != nil {
			return apperr.Validation("invalid price")
		}
	}
	slotType := SlotType(c.QueryParam("slot_type"))
	price, err := h.resolver.ResolvePrice(c.Request().Context(), t, slotType, explicit)
	if err != nil {
		return err
	}
	return httpx.OK(c, map[string]interface{}{"slot_type": slotType, "price": price})
}

func (h *Handler) GetRegistrationPolicy(c echo.Context) error {
	t, err := targetFromQuery(c)
	if err != nil {
		return err
	}
	p, err := h.resolver.RegistrationPolicy(c.Request().Context(), t)
	if err != nil {
		return err
	}
	return httpx.OK(c, p)
}

func (h *Handler) GetSchedulePolicy(c echo.Context) error {
	t, err := targetFromQuery(c)
	if err != nil {
		return err
	}
	p, err := h.resolver.SchedulePolicy(c.Request().Context(), t)
	if err != nil {
		return err
	}
	return httpx.OK(c, p)
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.resolver.List(c.Request().Context(), c.Param("key"))
	if err != nil {
		return err
	}
	return httpx.OK(c, items)
}

func (h *Handler) Put(c echo.Context) error {
	var req putRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	e := &Entry{
		Scope:   req.Scope,
		ScopeID: req.ScopeID,
		Key:     c.Param("key"),
		Value:   req.Value,
	}
	if uid := auth.CallerID(c.Request().Context()); uid != 0 {
		e.UpdatedBy = &uid
	}
	if err := h.resolver.Put(c.Request().Context(), e); err != nil {
		return err
	}
	return httpx.OK(c, e)
}

func (h *Handler) Deactivate(c echo.Context) error {
	scopeID, err := httpx.QueryID(c, "scope_id")
	if err != nil {
		return err
	}
	if err := h.resolver.Deactivate(c.Request().Context(), Scope(c.QueryParam("scope")), scopeID, c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
