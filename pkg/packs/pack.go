// Package packs implements workflow pack gating for the Mozaiks control
// plane. A pack is a declarative YAML config describing an app's
// workflows, their prerequisite gates, and an optional guided journey.
// The [Gatekeeper] evaluates those gates against completed workflow
// sessions before a launch is allowed.
package packs

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// GateRequirement names a parent workflow that must have at least one
// completed session before the dependent workflow may start.
type GateRequirement struct {
	// From is the parent workflow key.
	From string `yaml:"from" json:"from"`

	// Reason is the user-facing message shown when the gate is not
	// satisfied.
	Reason string `yaml:"reason" json:"reason"`
}

// WorkflowSpec declares one workflow in a pack.
type WorkflowSpec struct {
	// Title is the human-readable workflow name for UI listings.
	Title string `yaml:"title,omitempty" json:"title,omitempty"`

	// Requires lists the workflow's explicit prerequisite gates.
	Requires []GateRequirement `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// JourneyStep is one step of a pack's guided journey. When
// [Pack.EnforceStepGating] is set, each step implicitly gates on the
// previous step's workflow.
type JourneyStep struct {
	// Step is the step key, unique within the journey.
	Step string `yaml:"step" json:"step"`

	// Workflow is the workflow the step runs.
	Workflow string `yaml:"workflow" json:"workflow"`
}

// Pack is a declarative workflow pack configuration.
type Pack struct {
	// Name identifies the pack.
	Name string `yaml:"name" json:"name"`

	// EnforceStepGating enables implicit previous-step gates for
	// workflows that appear in the journey.
	EnforceStepGating bool `yaml:"enforce_step_gating" json:"enforce_step_gating"`

	// Journey is the ordered list of guided steps. Optional.
	Journey []JourneyStep `yaml:"journey,omitempty" json:"journey,omitempty"`

	// Workflows maps workflow keys to their specs.
	Workflows map[string]WorkflowSpec `yaml:"workflows" json:"workflows"`
}

// Parse unmarshals and validates a pack from YAML.
func Parse(data []byte) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("packs: failed to parse pack config: %w", err)
	}
	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return &pack, nil
}

// LoadFile reads and parses a pack config from a YAML file.
func LoadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("packs: failed to read pack config %q: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the pack for structural errors: every requires.from
// and journey workflow must be declared, and journey step keys must be
// unique.
func (p *Pack) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("packs: pack name is required")
	}
	if len(p.Workflows) == 0 {
		return fmt.Errorf("packs: pack %q declares no workflows", p.Name)
	}

	for workflow, spec := range p.Workflows {
		for _, gate := range spec.Requires {
			if gate.From == "" {
				return fmt.Errorf("packs: workflow %q has a gate with an empty from", workflow)
			}
			if _, ok := p.Workflows[gate.From]; !ok {
				return fmt.Errorf("packs: workflow %q requires undeclared workflow %q", workflow, gate.From)
			}
			if gate.From == workflow {
				return fmt.Errorf("packs: workflow %q cannot require itself", workflow)
			}
		}
	}

	seenSteps := make(map[string]struct{}, len(p.Journey))
	for _, step := range p.Journey {
		if step.Step == "" || step.Workflow == "" {
			return fmt.Errorf("packs: journey steps need both step and workflow keys")
		}
		if _, dup := seenSteps[step.Step]; dup {
			return fmt.Errorf("packs: duplicate journey step %q", step.Step)
		}
		seenSteps[step.Step] = struct{}{}
		if _, ok := p.Workflows[step.Workflow]; !ok {
			return fmt.Errorf("packs: journey step %q references undeclared workflow %q", step.Step, step.Workflow)
		}
	}
	return nil
}

// Declared reports whether the workflow exists in this pack.
func (p *Pack) Declared(workflow string) bool {
	_, ok := p.Workflows[workflow]
	return ok
}

// RequiredGates computes the workflow's prerequisite gates: the explicit
// requires entries plus, when step gating is enforced, an implicit gate
// on the previous journey step's workflow. Gates are de-duplicated by
// parent workflow, preserving first-seen order, so an explicit gate's
// reason wins over the implicit one for the same parent.
func (p *Pack) RequiredGates(workflow string) []GateRequirement {
	spec, ok := p.Workflows[workflow]
	if !ok {
		return nil
	}

	gates := make([]GateRequirement, 0, len(spec.Requires)+1)
	seen := make(map[string]struct{}, len(spec.Requires)+1)

	add := func(gate GateRequirement) {
		if _, dup := seen[gate.From]; dup {
			return
		}
		seen[gate.From] = struct{}{}
		gates = append(gates, gate)
	}

	for _, gate := range spec.Requires {
		add(gate)
	}

	if p.EnforceStepGating {
		if previous := p.previousJourneyWorkflow(workflow); previous != "" {
			add(GateRequirement{
				From:   previous,
				Reason: fmt.Sprintf("Complete %q before starting %q.", previous, workflow),
			})
		}
	}
	return gates
}

// previousJourneyWorkflow returns the workflow of the journey step
// preceding the first step that runs the given workflow, or "" when the
// workflow is not in the journey or is its first step.
func (p *Pack) previousJourneyWorkflow(workflow string) string {
	for i, step := range p.Journey {
		if step.Workflow == workflow {
			if i == 0 {
				return ""
			}
			previous := p.Journey[i-1].Workflow
			if previous == workflow {
				return ""
			}
			return previous
		}
	}
	return ""
}

// WorkflowNames returns every declared workflow in a deterministic
// order: journey order first, then the remaining workflows sorted by
// key.
func (p *Pack) WorkflowNames() []string {
	names := make([]string, 0, len(p.Workflows))
	seen := make(map[string]struct{}, len(p.Workflows))

	for _, step := range p.Journey {
		if _, dup := seen[step.Workflow]; dup {
			continue
		}
		seen[step.Workflow] = struct{}{}
		names = append(names, step.Workflow)
	}

	remaining := make([]string, 0, len(p.Workflows))
	for workflow := range p.Workflows {
		if _, ok := seen[workflow]; !ok {
			remaining = append(remaining, workflow)
		}
	}
	sort.Strings(remaining)
	return append(names, remaining...)
}
