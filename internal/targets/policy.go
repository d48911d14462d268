// Package targets resolves logical service names into the concrete
// deployments chaos is applied to.
package targets

import (
	"context"
	"fmt"
	"strings"

	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// All is the wildcard target covering every whitelisted service.
const All = "all"

// UnknownTargetError rejects a logical name outside the whitelist. It is an
// operator error: non-retryable, and the only failure that surfaces as a
// non-zero exit or 4xx response.
type UnknownTargetError struct {
	Name  string
	Valid []string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q (valid targets: %s, %s)",
		e.Name, strings.Join(e.Valid, ", "), All)
}

// NamespaceLister reports the monitored namespaces that currently exist.
type NamespaceLister interface {
	ListNamespaces(ctx context.Context) ([]string, error)
}

// Policy validates logical names against a fixed whitelist and expands them
// across monitored namespaces.
type Policy struct {
	whitelist  []string
	namespaces NamespaceLister
	log        logger.Logger
}

// NewPolicy creates a policy over the given whitelist.
func NewPolicy(whitelist []string, namespaces NamespaceLister, log logger.Logger) *Policy {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Policy{
		whitelist:  whitelist,
		namespaces: namespaces,
		log:        log,
	}
}

// IsKnown reports whether name is the wildcard or a whitelisted service.
func (p *Policy) IsKnown(name string) bool {
	if name == All {
		return true
	}
	for _, svc := range p.whitelist {
		if svc == name {
			return true
		}
	}
	return false
}

// Whitelist returns a copy of the valid service names.
func (p *Policy) Whitelist() []string {
	out := make([]string, len(p.whitelist))
	copy(out, p.whitelist)
	return out
}

// Resolve expands a logical name into concrete targets: one per monitored
// namespace that exists. The wildcard expands to the full whitelist cross
// product. Unknown names return *UnknownTargetError.
func (p *Policy) Resolve(ctx context.Context, logicalName string) ([]types.Target, error) {
	var services []string
	switch {
	case logicalName == All:
		services = p.whitelist
	case p.IsKnown(logicalName):
		services = []string{logicalName}
	default:
		return nil, &UnknownTargetError{Name: logicalName, Valid: p.Whitelist()}
	}

	namespaces, err := p.namespaces.ListNamespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored namespaces: %w", err)
	}
	if len(namespaces) == 0 {
		p.log.Warn("no monitored namespaces reachable", "target", logicalName)
		return nil, nil
	}

	resolved := make([]types.Target, 0, len(namespaces)*len(services))
	for _, ns := range namespaces {
		for _, svc := range services {
			resolved = append(resolved, types.Target{Namespace: ns, Deployment: svc})
		}
	}

	p.log.Debug("resolved targets",
		"logical_name", logicalName,
		"count", len(resolved),
	)
	return resolved, nil
}
