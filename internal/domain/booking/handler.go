package booking

import (
	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
	"github.com/hospital/outpatient/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	book := api.Group("", auth.RequireCapability(auth.CapBook))
	book.POST("/orders", h.Book)
	book.POST("/orders/waitlist", h.JoinWaitlist)
	book.POST("/orders/:id/cancel", h.Cancel)
	book.POST("/orders/:id/pay", h.Pay)
	book.GET("/orders/:id", h.Get)
	book.GET("/patients/:patient_id/orders", h.ListByPatient)

	api.GET("/schedules/:id/orders", h.ListBySchedule, auth.RequireCapability(auth.CapOperateQueue))
}

type bookRequest struct {
	ScheduleID int64  `json:"schedule_id" validate:"required,gt=0"`
	PatientID  int64  `json:"patient_id" validate:"omitempty,gt=0"`
	Symptoms   string `json:"symptoms" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

func callerOf(c echo.Context) auth.Caller {
	caller, _ := auth.CallerFromContext(c.Request().Context())
	return caller
}

// bindBook defaults patient_id to the caller, so patients book for themselves.
func bindBook(c echo.Context) (BookRequest, error) {
	var req bookRequest
	if err := httpx.Bind(c, &req); err != nil {
		return BookRequest{}, err
	}
	if req.PatientID == 0 {
		req.PatientID = callerOf(c).UserID
	}
	if req.PatientID <= 0 {
		return BookRequest{}, apperr.Validation("patient_id is required")
	}
	return BookRequest{ScheduleID: req.ScheduleID, PatientID: req.PatientID, Symptoms: req.Symptoms}, nil
}

func (h *Handler) Book(c echo.Context) error {
	req, err := bindBook(c)
	if err != nil {
		return err
	}
	o, err := h.ledger.Book(c.Request().Context(), callerOf(c), req)
	if err != nil {
		return err
	}
	return httpx.Created(c, o)
}

func (h *Handler) JoinWaitlist(c echo.Context) error {
	req, err := bindBook(c)
	if err != nil {
		return err
	}
	o, err := h.ledger.JoinWaitlist(c.Request().Context(), callerOf(c), req)
	if err != nil {
		return err
	}
	return httpx.Created(c, o)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
	}
	res, err := h.ledger.Cancel(c.Request().Context(), callerOf(c), id, req.Reason)
	if err != nil {
		return err
	}
	return httpx.OK(c, res)
}

func (h *Handler) Pay(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.ledger.Pay(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.ledger.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, o)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := httpx.ParamID(c, "patient_id")
	if err != nil {
		return err
	}
	var status *Status
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		status = &st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.ledger.ListByPatient(c.Request().Context(), patientID, status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListBySchedule(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.ledger.ListBySchedule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, items)
}
