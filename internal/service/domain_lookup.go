// internal/service/domain_lookup.go
package service

import (
	"context"
	"net"

	"batch-dispatch/internal/domain"
)

// DomainLookup resolves a domain name to its addresses, or reverse-resolves
// an IP, depending on which field the request carries.
type DomainLookup struct {
	resolver *net.Resolver
}

func NewDomainLookup() *DomainLookup {
	return &DomainLookup{resolver: net.DefaultResolver}
}

func (s *DomainLookup) Name() string { return "domain-lookup" }

func (s *DomainLookup) Description() string {
	return "Resolves a domain to addresses, or an IP to hostnames."
}

func (s *DomainLookup) Requirements() domain.RequirementSchema {
	return domain.RequirementSchema{
		OneOf: [][]string{{"ip"}, {"domain"}},
	}
}

func (s *DomainLookup) Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	if name, ok := task.Data["domain"].(string); ok {
		addrs, err := s.resolver.LookupHost(ctx, name)
		if err != nil {
			return domain.FailResult(task, "lookup failed: "+err.Error()), nil
		}
		return domain.DoneResult(task, map[string]any{"domain": name, "addresses": addrs}), nil
	}

	ip, ok := task.Data["ip"].(string)
	if !ok {
		return domain.RejectResult(task, "neither ip nor domain present as a string"), nil
	}
	names, err := s.resolver.LookupAddr(ctx, ip)
	if err != nil {
		return domain.FailResult(task, "reverse lookup failed: "+err.Error()), nil
	}
	return domain.DoneResult(task, map[string]any{"ip": ip, "hostnames": names}), nil
}
