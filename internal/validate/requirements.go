// internal/validate/requirements.go
package validate

import (
	"fmt"
	"sort"
	"strings"

	"batch-dispatch/internal/domain"
)

// shapeClaim records which services require a field with which shape,
// built once per validation pass and discarded.
type shapeClaim struct {
	shape    domain.FieldShape
	services []string
}

// Requirements cross-checks a request's intended set of services against
// the shared payload before any task is created. It fails fast on a
// requirement conflict (two services needing the same field with different
// shapes), then collects one issue per missing or mismatched field and per
// unsatisfied oneOf group.
//
// A service name absent from the registry is a deployment bug, not a user
// error, and is reported as an InternalFault rather than a ValidationError.
func Requirements(payload map[string]any, serviceNames []string, registry *domain.ServiceRegistry) error {
	schemas := make(map[string]domain.RequirementSchema, len(serviceNames))
	for _, name := range serviceNames {
		svc, ok := registry.Lookup(name)
		if !ok {
			return domain.NewInternalFault(
				fmt.Sprintf("service %s passed availability checks but is missing from the registry", name),
				domain.ErrServiceUnknown,
			)
		}
		schemas[name] = svc.Requirements()
	}

	if err := detectConflicts(serviceNames, schemas); err != nil {
		return err
	}

	var issues []string

	// Presence and shape of unconditional fields. When the same field is
	// required by several services the conflict pass has already ensured
	// one shape, so checking it once per service only duplicates the
	// issue text, never the semantics.
	seen := make(map[string]bool)
	for _, name := range serviceNames {
		fields := schemas[name].Fields
		for _, field := range sortedFields(fields) {
			if seen[field] {
				continue
			}
			seen[field] = true
			want := fields[field]
			value, present := payload[field]
			if !present {
				issues = append(issues, fmt.Sprintf("field %q is required but missing", field))
				continue
			}
			if got := domain.ShapeOf(value); got != want {
				issues = append(issues, fmt.Sprintf("field %q must be a %s, got %s", field, want, shapeName(got)))
			}
		}
	}

	// oneOf groups: at least one alternative field-set fully present.
	// A field that also carries a plain requirement counts toward its
	// alternatives by simple presence.
	for _, name := range serviceNames {
		group := schemas[name].OneOf
		if len(group) == 0 || satisfiesOneOf(payload, group) {
			continue
		}
		issues = append(issues, fmt.Sprintf(
			"service %s requires one of: %s", name, describeAlternatives(group)))
	}

	if len(issues) > 0 {
		return domain.NewValidationError("request does not satisfy service requirements", issues...)
	}
	return nil
}

// detectConflicts fails fast when any field is required with more than one
// distinct shape across the requested services. The caller must split the
// request into compatible groups; no reconciliation is attempted.
func detectConflicts(serviceNames []string, schemas map[string]domain.RequirementSchema) error {
	claims := make(map[string][]shapeClaim)
	for _, name := range serviceNames {
		for field, shape := range schemas[name].Fields {
			cs := claims[field]
			found := false
			for i := range cs {
				if cs[i].shape == shape {
					cs[i].services = append(cs[i].services, name)
					found = true
					break
				}
			}
			if !found {
				cs = append(cs, shapeClaim{shape: shape, services: []string{name}})
			}
			claims[field] = cs
		}
	}

	var issues []string
	for _, field := range sortedKeys(claims) {
		cs := claims[field]
		if len(cs) < 2 {
			continue
		}
		var parts []string
		for _, c := range cs {
			sort.Strings(c.services)
			parts = append(parts, fmt.Sprintf("%s as %s", strings.Join(c.services, ", "), c.shape))
		}
		issues = append(issues, fmt.Sprintf(
			"field %q is required with conflicting shapes: %s", field, strings.Join(parts, " vs ")))
	}
	if len(issues) > 0 {
		return domain.NewValidationError(
			"requested services have conflicting requirements; split the request into compatible groups",
			issues...)
	}
	return nil
}

func satisfiesOneOf(payload map[string]any, group [][]string) bool {
	for _, alternative := range group {
		complete := len(alternative) > 0
		for _, field := range alternative {
			if _, present := payload[field]; !present {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}

func describeAlternatives(group [][]string) string {
	alts := make([]string, len(group))
	for i, set := range group {
		alts[i] = "{" + strings.Join(set, ", ") + "}"
	}
	return strings.Join(alts, " or ")
}

func sortedFields(fields map[string]domain.FieldShape) []string {
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shapeName(s domain.FieldShape) string {
	if s == "" {
		return "null"
	}
	return string(s)
}
