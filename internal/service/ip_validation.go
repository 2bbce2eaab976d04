// internal/service/ip_validation.go
package service

import (
	"context"
	"net/netip"

	"batch-dispatch/internal/domain"
)

// IPValidation reports whether the request's ip field is a well-formed
// address and classifies it.
type IPValidation struct{}

func NewIPValidation() *IPValidation { return &IPValidation{} }

func (s *IPValidation) Name() string { return "ip-validation" }

func (s *IPValidation) Description() string {
	return "Validates an IP address and reports its version and scope."
}

func (s *IPValidation) Requirements() domain.RequirementSchema {
	return domain.RequirementSchema{
		Fields: map[string]domain.FieldShape{"ip": domain.ShapeString},
	}
}

func (s *IPValidation) Execute(_ context.Context, task *domain.Task) (*domain.TaskResult, error) {
	raw := task.Data["ip"].(string)

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return domain.DoneResult(task, map[string]any{"valid": false}), nil
	}

	version := 4
	if addr.Is6() && !addr.Is4In6() {
		version = 6
	}
	return domain.DoneResult(task, map[string]any{
		"valid":    true,
		"version":  version,
		"private":  addr.IsPrivate(),
		"loopback": addr.IsLoopback(),
	}), nil
}
