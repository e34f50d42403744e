package attendance

import (
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
)

type Handler struct {
	marker *Marker
}

func NewHandler(m *Marker) *Handler {
	return &Handler{marker: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("/attendance", auth.RequireCapability(auth.CapCheckIn))
	doctor.POST("/:schedule_id/checkin", h.CheckIn)
	doctor.POST("/:schedule_id/checkout", h.CheckOut)

	admin := api.Group("/attendance", auth.RequireCapability(auth.CapRunAttendance))
	admin.POST("/mark-absent", h.MarkAbsent)
	admin.GET("/absences", h.AbsenceStats)
}

type positionRequest struct {
	Lat decimal.Decimal `json:"lat"`
	Lng decimal.Decimal `json:"lng"`
}

func (p positionRequest) validate() (Position, error) {
	if p.Lat.Abs().GreaterThan(decimal.NewFromInt(90)) || p.Lng.Abs().GreaterThan(decimal.NewFromInt(180)) {
		return Position{}, apperr.Validation("lat/lng out of range")
	}
	return Position{Lat: p.Lat, Lng: p.Lng}, nil
}

type markRequest struct {
	From string `json:"from" validate:"required,date"`
	To   string `json:"to" validate:"omitempty,date"`
}

func (h *Handler) checkPosition(c echo.Context) (int64, Position, error) {
	id, err := httpx.ParamID(c, "schedule_id")
	if err != nil {
		return 0, Position{}, err
	}
	var req positionRequest
	if err := httpx.Bind(c, &req); err != nil {
		return 0, Position{}, err
	}
	pos, err := req.validate()
	return id, pos, err
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, pos, err := h.checkPosition(c)
	if err != nil {
		return err
	}
	caller, _ := auth.CallerFromContext(c.Request().Context())
	rec, err := h.marker.CheckIn(c.Request().Context(), caller, id, pos)
	if err != nil {
		return err
	}
	return httpx.OK(c, rec)
}

func (h *Handler) CheckOut(c echo.Context) error {
	id, pos, err := h.checkPosition(c)
	if err != nil {
		return err
	}
	caller, _ := auth.CallerFromContext(c.Request().Context())
	rec, err := h.marker.CheckOut(c.Request().Context(), caller, id, pos)
	if err != nil {
		return err
	}
	return httpx.OK(c, rec)
}

func (h *Handler) MarkAbsent(c echo.Context) error {
	var req markRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	from, err := httpx.ParseDate("from", req.From)
	if err != nil {
		return err
	}
	to := from
	if req.To != "" {
		if to, err = httpx.ParseDate("to", req.To); err != nil {
			return err
		}
	}
	stats, err := h.marker.MarkAbsentRange(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return httpx.OK(c, stats)
}

func (h *Handler) AbsenceStats(c echo.Context) error {
	from, err := httpx.QueryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := httpx.QueryDate(c, "to")
	if err != nil {
		return err
	}
	if from == nil || to == nil {
		return apperr.Validation("from and to are required")
	}
	doctorID, err := httpx.QueryID(c, "doctor_id")
	if err != nil {
		return err
	}
	report, err := h.marker.AbsenceStats(c.Request().Context(), *from, *to, doctorID)
	if err != nil {
		return err
	}
	return httpx.OK(c, report)
}
