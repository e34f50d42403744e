package auth

import (
	"context"
	"slices"
)

// Capability names an action class a caller may perform. Handlers gate routes
// on capabilities; the domain services only read the caller for identity and
// for the approve shortcut on add-slot requests.
type Capability string

const (
	CapBook           Capability = "booking:create"
	CapManageSchedule Capability = "schedule:manage"
	CapSubmitAudit    Capability = "audit:submit"
	CapApproveAudit   Capability = "audit:approve"
	CapOperateQueue   Capability = "queue:operate"
	CapRunAttendance  Capability = "attendance:run"
	CapCheckIn        Capability = "attendance:checkin"
)

const (
	RoleAdmin     = "admin"
	RoleDeptHead  = "dept_head"
	RoleDoctor    = "doctor"
	RoleFrontDesk = "front_desk"
	RolePatient   = "patient"
)

var roleCapabilities = map[string][]Capability{
	RoleDeptHead:  {CapManageSchedule, CapSubmitAudit, CapApproveAudit, CapOperateQueue},
	RoleDoctor:    {CapSubmitAudit, CapOperateQueue, CapCheckIn},
	RoleFrontDesk: {CapBook, CapOperateQueue, CapSubmitAudit},
	RolePatient:   {CapBook},
}

// Caller is the identity injected into every core operation.
type Caller struct {
	UserID   int64
	Roles    []string
	DoctorID *int64
	IsAdmin  bool
}

// System is the caller used by the CLI and the background worker.
var System = Caller{UserID: 0, Roles: []string{RoleAdmin}, IsAdmin: true}

func NewCaller(userID int64, roles []string, doctorID *int64) Caller {
	return Caller{
		UserID:   userID,
		Roles:    roles,
		DoctorID: doctorID,
		IsAdmin:  slices.Contains(roles, RoleAdmin),
	}
}

func (c Caller) Has(capability Capability) bool {
	if c.IsAdmin {
		return true
	}
	for _, r := range c.Roles {
		if slices.Contains(roleCapabilities[r], capability) {
			return true
		}
	}
	return false
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the request's caller; ok is false for
// unauthenticated contexts.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
