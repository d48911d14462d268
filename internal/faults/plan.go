package faults

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/mreider/fabrik/internal/types"
)

// Plan maps logical service names to the fault parameters an episode
// applies to them.
type Plan map[string]map[string]string

// DefaultPlan returns the built-in plan covering the fabrik demo services.
// Each service only carries the dimensions its code actually reads.
func DefaultPlan() Plan {
	return Plan{
		"frontend": {
			KeyFailureRate:    "30",
			KeyDBSlowdownRate: "50", KeyDBSlowdownDelay: "900",
		},
		"orders": {
			KeyFailureRate:    "35",
			KeyDBSlowdownRate: "60", KeyDBSlowdownDelay: "1200",
		},
		"inventory": {
			KeyFailureRate:     "25",
			KeyMsgSlowdownRate: "50", KeyMsgSlowdownDelay: "800",
			KeyDBSlowdownRate: "40", KeyDBSlowdownDelay: "700",
		},
		"fulfillment": {
			KeyFailureRate:     "30",
			KeyMsgSlowdownRate: "60", KeyMsgSlowdownDelay: "1500",
		},
		"shipping-processor": {
			KeyFailureRate:    "25",
			KeyDBSlowdownRate: "50", KeyDBSlowdownDelay: "1000",
		},
		"shipping-receiver": {
			KeySlowdownRate: "60", KeySlowdownDelay: "1200",
			KeyMsgSlowdownRate: "50", KeyMsgSlowdownDelay: "900",
		},
	}
}

// KnownServices returns the logical service names of the built-in plan in
// sorted order. This is the fixed whitelist chaos may target.
func KnownServices() []string {
	plan := DefaultPlan()
	names := make([]string, 0, len(plan))
	for name := range plan {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SpecFor returns the FaultSpec the plan holds for a service. The second
// return is false when the plan does not cover the service.
func (p Plan) SpecFor(service string) (types.FaultSpec, bool) {
	params, ok := p[service]
	if !ok {
		return types.FaultSpec{}, false
	}
	spec := types.FaultSpec{Service: service, Parameters: make(map[string]string, len(params))}
	for k, v := range params {
		spec.Parameters[k] = v
	}
	return spec, true
}

// planFile is the on-disk override format.
type planFile struct {
	Services map[string]map[string]string `json:"services"`
}

// LoadPlanFile reads a YAML plan override. Services present in the file
// replace the built-in parameter set wholesale; services absent from the
// file keep their defaults. Unknown service names are rejected. Invalid
// parameter values inside a service entry are dropped with their keys
// reported, matching the treat-as-absent policy.
func LoadPlanFile(path string) (Plan, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading plan file: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}

	plan := DefaultPlan()
	var allDropped []string
	for service, params := range pf.Services {
		if _, ok := plan[service]; !ok {
			return nil, nil, fmt.Errorf("unknown service %q in plan file (valid: %s)",
				service, strings.Join(KnownServices(), ", "))
		}
		clean, dropped := Normalize(params)
		for _, k := range dropped {
			allDropped = append(allDropped, service+"."+k)
		}
		plan[service] = clean
	}
	sort.Strings(allDropped)
	return plan, allDropped, nil
}
