package domain

import (
	"context"
	"fmt"
	"sort"
)

// FieldShape names the runtime shape a service requires of a payload field.
type FieldShape string

const (
	ShapeString  FieldShape = "string"
	ShapeNumber  FieldShape = "number"
	ShapeBoolean FieldShape = "boolean"
	ShapeObject  FieldShape = "object"
	ShapeList    FieldShape = "list"
)

// ShapeOf classifies a decoded JSON value into its FieldShape. An empty
// shape means the value has no recognized primitive shape (e.g. nil).
func ShapeOf(v any) FieldShape {
	switch v.(type) {
	case string:
		return ShapeString
	case float64, int, int64:
		return ShapeNumber
	case bool:
		return ShapeBoolean
	case map[string]any:
		return ShapeObject
	case []any:
		return ShapeList
	default:
		return ""
	}
}

// RequirementSchema declares what a service needs from the shared request
// payload. Fields are unconditional field→shape requirements; OneOf is a
// list of alternative field-sets of which at least one must be fully
// present.
type RequirementSchema struct {
	Fields map[string]FieldShape
	OneOf  [][]string
}

// TaskService is one named capability the worker fleet can execute.
// Implementations perform only their own upstream work inside Execute;
// queue and dispatch plumbing stay outside this interface.
type TaskService interface {
	Name() string
	Description() string
	Requirements() RequirementSchema
	Execute(ctx context.Context, task *Task) (*TaskResult, error)
}

// ServiceRegistry maps service names to implementations. It is constructed
// explicitly at startup; there is no runtime discovery or reflection.
type ServiceRegistry struct {
	services map[string]TaskService
}

// NewServiceRegistry builds a registry from the given services.
func NewServiceRegistry(services ...TaskService) (*ServiceRegistry, error) {
	r := &ServiceRegistry{services: make(map[string]TaskService, len(services))}
	for _, svc := range services {
		if svc.Name() == "" {
			return nil, fmt.Errorf("service with empty name cannot be registered")
		}
		if _, dup := r.services[svc.Name()]; dup {
			return nil, fmt.Errorf("service %s registered twice", svc.Name())
		}
		r.services[svc.Name()] = svc
	}
	return r, nil
}

// Lookup returns the named service, or false when it is not registered.
func (r *ServiceRegistry) Lookup(name string) (TaskService, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the registered service names, sorted for stable output.
func (r *ServiceRegistry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
