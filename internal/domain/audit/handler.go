package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/domain/tierconfig"
	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
	"github.com/hospital/outpatient/pkg/pagination"
)

type Handler struct {
	pipeline *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	submit := api.Group("/audits", auth.RequireCapability(auth.CapSubmitAudit))
	submit.POST("/schedules", h.SubmitSchedule)
	submit.GET("/schedules", h.ListSchedule)
	submit.GET("/schedules/:id", h.GetSchedule)
	submit.POST("/leaves", h.SubmitLeave)
	submit.GET("/leaves", h.ListLeave)
	submit.GET("/leaves/:id", h.GetLeave)
	submit.POST("/add-slots", h.SubmitAddSlot)
	submit.GET("/add-slots", h.ListAddSlot)
	submit.GET("/add-slots/:id", h.GetAddSlot)

	decide := api.Group("/audits", auth.RequireCapability(auth.CapApproveAudit))
	decide.POST("/schedules/:id/approve", h.ApproveSchedule)
	decide.POST("/schedules/:id/reject", h.RejectSchedule)
	decide.POST("/leaves/:id/approve", h.ApproveLeave)
	decide.POST("/leaves/:id/reject", h.RejectLeave)
	decide.POST("/add-slots/:id/approve", h.ApproveAddSlot)
	decide.POST("/add-slots/:id/reject", h.RejectAddSlot)
}

type scheduleRequest struct {
	ClinicID    int64  `json:"clinic_id" validate:"required,gt=0"`
	MinorDeptID *int64 `json:"minor_dept_id" validate:"omitempty,gt=0"`
	WeekStart   string `json:"week_start" validate:"required,date"`
	Grid        Grid   `json:"grid"`
	Remark      string `json:"remark" validate:"max=500"`
}

type leaveRequest struct {
	DoctorID    int64        `json:"doctor_id" validate:"required,gt=0"`
	StartDate   string       `json:"start_date" validate:"required,date"`
	EndDate     string       `json:"end_date" validate:"omitempty,date"`
	Shift       LeaveShift   `json:"shift" validate:"omitempty,oneof=morning afternoon evening full"`
	Reason      string       `json:"reason" validate:"required,max=500"`
	Attachments []Attachment `json:"attachments" validate:"max=10"`
}

type addSlotRequest struct {
	ScheduleID int64               `json:"schedule_id" validate:"required,gt=0"`
	PatientID  int64               `json:"patient_id" validate:"required,gt=0"`
	SlotType   tierconfig.SlotType `json:"slot_type" validate:"omitempty,oneof=normal expert special"`
	Reason     string              `json:"reason" validate:"max=500"`
}

type decisionRequest struct {
	Comment string `json:"comment" validate:"max=500"`
}

func callerOf(c echo.Context) auth.Caller {
	caller, _ := auth.CallerFromContext(c.Request().Context())
	return caller
}

// decision reads the audit id and the optional comment body.
func decision(c echo.Context) (int64, string, error) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return 0, "", err
	}
	var req decisionRequest
	if c.Request().ContentLength > 0 {
		if err := httpx.Bind(c, &req); err != nil {
			return 0, "", err
		}
	}
	return id, req.Comment, nil
}

func filterFrom(c echo.Context) (Filter, error) {
	var f Filter
	var err error
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if f.ClinicID, err = httpx.QueryID(c, "clinic_id"); err != nil {
		return f, err
	}
	if f.DoctorID, err = httpx.QueryID(c, "doctor_id"); err != nil {
		return f, err
	}
	return f, nil
}

// =========== Schedule proposals ===========

func (h *Handler) SubmitSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	start, err := httpx.ParseDate("week_start", req.WeekStart)
	if err != nil {
		return err
	}
	a, err := h.pipeline.SubmitSchedule(c.Request().Context(), callerOf(c), ScheduleSubmission{
		ClinicID:    req.ClinicID,
		MinorDeptID: req.MinorDeptID,
		WeekStart:   start,
		Grid:        req.Grid,
		Remark:      req.Remark,
	})
	if err != nil {
		return err
	}
	return httpx.Created(c, a)
}

func (h *Handler) ApproveSchedule(c echo.Context) error {
	id, comment, err := decision(c)
	if err != nil {
		return err
	}
	res, err := h.pipeline.ApproveSchedule(c.Request().Context(), callerOf(c), id, comment)
	if err != nil {
		return err
	}
	return httpx.OK(c, res)
}

func (h *Handler) RejectSchedule(c echo.Context) error {
	id, comment, err := decision(c)
	if err != nil {
		return err
	}
	a, err := h.pipeline.RejectSchedule(c.Request().Context(), callerOf(c), id, comment)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.pipeline.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) ListSchedule(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.pipeline.ListSchedule(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewResponse(items, total, pg))
}

// =========== Leave proposals ===========

func (h *Handler) SubmitLeave(c echo.Context) error {
	var req leaveRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	sub := LeaveSubmission{
		DoctorID:    req.DoctorID,
		Shift:       req.Shift,
		Reason:      req.Reason,
		Attachments: req.Attachments,
	}
	var err error
	if sub.StartDate, err = httpx.ParseDate("start_date", req.StartDate); err != nil {
		return err
	}
	if req.EndDate != "" {
		if sub.EndDate, err = httpx.ParseDate("end_date", req.EndDate); err != nil {
			return err
		}
	}
	for i, att := range sub.Attachments {
		if att.Name == "" || att.URL == "" {
			return apperr.Validation("attachments[%d]: name and url are required", i)
		}
	}
	a, err := h.pipeline.SubmitLeave(c.Request().Context(), callerOf(c), sub)
	if err != nil {
		return err
	}
	return httpx.Created(c, a)
}

func (h *Handler) ApproveLeave(c echo.Context) error {
	id, comment, err := decision(c)
	if err != nil {
		return err
	}
	a, err := h.pipeline.ApproveLeave(c.Request().Context(), callerOf(c), id, comment)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) RejectLeave(c echo.Context) error {
	id, comment, err := decision(c)
	if err != nil {
		return err
	}
	a, err := h.pipeline.RejectLeave(c.Request().Context(), callerOf(c), id, comment)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) GetLeave(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.pipeline.GetLeave(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) ListLeave(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.pipeline.ListLeave(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewResponse(items, total, pg))
}

// =========== Add-slot proposals ===========

func (h *Handler) SubmitAddSlot(c echo.Context) error {
	var req addSlotRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	a, err := h.pipeline.SubmitAddSlot(c.Request().Context(), callerOf(c), AddSlotSubmission{
		ScheduleID: req.ScheduleID,
		PatientID:  req.PatientID,
		SlotType:   req.SlotType,
		Reason:     req.Reason,
	})
	if err != nil {
		return err
	}
	return httpx.Created(c, a)
}

func (h *Handler) ApproveAddSlot(c echo.Context) error {
	id, comment, err := decision(c)
	if err != nil {
		return err
	}
	a, err := h.pipeline.ApproveAddSlot(c.Request().Context(), callerOf(c), id, comment)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) RejectAddSlot(c echo.Context) error {
	id, comment, err := decision(c)
	if err != nil {
		return err
	}
	a, err := h.pipeline.RejectAddSlot(c.Request().Context(), callerOf(c), id, comment)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) GetAddSlot(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.pipeline.GetAddSlot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, a)
}

func (h *Handler) ListAddSlot(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.pipeline.ListAddSlot(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, pagination.NewResponse(items, total, pg))
}
