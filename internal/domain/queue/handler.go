package queue

import (
	"github.com/labstack/echo/v4"

	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{svc: s}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/queue", auth.RequireCapability(auth.CapOperateQueue))
	g.GET("/:schedule_id", h.Snapshot)
	g.POST("/:schedule_id/call-next", h.CallNext)
	g.POST("/orders/:order_id/pass", h.Pass)
	g.POST("/orders/:order_id/complete", h.Complete)
}

func (h *Handler) Snapshot(c echo.Context) error {
	id, err := httpx.ParamID(c, "schedule_id")
	if err != nil {
		return err
	}
	snap, err := h.svc.Snapshot(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, snap)
}

func (h *Handler) CallNext(c echo.Context) error {
	id, err := httpx.ParamID(c, "schedule_id")
	if err != nil {
		return err
	}
	o, err := h.svc.CallNext(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, map[string]interface{}{"schedule_id": id, "current": o})
}

func (h *Handler) Pass(c echo.Context) error {
	id, err := httpx.ParamID(c, "order_id")
	if err != nil {
		return err
	}
	res, err := h.svc.Pass(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, res)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := httpx.ParamID(c, "order_id")
	if err != nil {
		return err
	}
	o, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, o)
}
