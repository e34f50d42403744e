package scheduling

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
	"github.com/hospital/outpatient/pkg/pagination"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/schedules", h.List)
	api.GET("/schedules/:id", h.Get)

	write := api.Group("/schedules", auth.RequireCapability(auth.CapManageSchedule))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Delete)
	write.POST("/:id/suspend", h.Suspend)
	write.POST("/:id/reactivate", h.Reactivate)
}

type createRequest struct {
	DoctorID   int64           `json:"doctor_id" validate:"required,gt=0"`
	ClinicID   int64           `json:"clinic_id" validate:"required,gt=0"`
	Date       string          `json:"date" validate:"required,date"`
	Section    Section         `json:"section" validate:"required,oneof=morning afternoon evening"`
	SlotType   SlotType        `json:"slot_type" validate:"required,oneof=normal expert special"`
	TotalSlots int             `json:"total_slots" validate:"required,gt=0"`
	Price      decimal.Decimal `json:"price"`
	Status     Status          `json:"status" validate:"omitempty,oneof=active suspended"`
}

type updateRequest struct {
	DoctorID   *int64           `json:"doctor_id" validate:"omitempty,gt=0"`
	ClinicID   *int64           `json:"clinic_id" validate:"omitempty,gt=0"`
	Date       *string          `json:"date" validate:"omitempty,date"`
	Section    *Section         `json:"section" validate:"omitempty,oneof=morning afternoon evening"`
	SlotType   *SlotType        `json:"slot_type" validate:"omitempty,oneof=normal expert special"`
	TotalSlots *int             `json:"total_slots" validate:"omitempty,gte=0"`
	Price      *decimal.Decimal `json:"price"`
	Status     *Status          `json:"status" validate:"omitempty,oneof=active suspended"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	date, err := httpx.ParseDate("date", req.Date)
	if err != nil {
		return err
	}
	s, err := h.catalog.Create(c.Request().Context(), CreateRequest{
		DoctorID:   req.DoctorID,
		ClinicID:   req.ClinicID,
		Date:       date,
		Section:    req.Section,
		SlotType:   req.SlotType,
		TotalSlots: req.TotalSlots,
		Price:      req.Price,
		Status:     req.Status,
	})
	if err != nil {
		return err
	}
	return httpx.Created(c, s)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.catalog.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, s)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	var err error
	if f.DoctorID, err = httpx.QueryID(c, "doctor_id"); err != nil {
		return err
	}
	if f.ClinicID, err = httpx.QueryID(c, "clinic_id"); err != nil {
		return err
	}
	if f.From, err = httpx.QueryDate(c, "from"); err != nil {
		return err
	}
	if f.To, err = httpx.QueryDate(c, "to"); err != nil {
		return err
	}
	if v := c.QueryParam("section"); v != "" {
		sec := Section(v)
		if !sec.Valid() {
			return apperr.Validation("unknown time section %q", v)
		}
		f.Section = &sec
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return apperr.Validation("unknown status %q", v)
		}
		f.Status = &st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.catalog.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	upd := UpdateRequest{
		DoctorID:   req.DoctorID,
		ClinicID:   req.ClinicID,
		Section:    req.Section,
		SlotType:   req.SlotType,
		TotalSlots: req.TotalSlots,
		Price:      req.Price,
		Status:     req.Status,
	}
	if req.Date != nil {
		d, err := httpx.ParseDate("date", *req.Date)
		if err != nil {
			return err
		}
		upd.Date = &d
	}
	s, err := h.catalog.Update(c.Request().Context(), id, upd)
	if err != nil {
		return err
	}
	return httpx.OK(c, s)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.catalog.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Suspend(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.catalog.Suspend(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, s)
}

func (h *Handler) Reactivate(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.catalog.Reactivate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, s)
}
