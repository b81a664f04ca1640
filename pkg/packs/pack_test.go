package packs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingPackYAML = `
name: onboarding-suite
enforce_step_gating: true
journey:
  - step: intake
    workflow: intake
  - step: analysis
    workflow: analysis
  - step: report
    workflow: report
workflows:
  intake:
    title: Intake
  analysis:
    title: Analysis
    requires:
      - from: intake
        reason: "Complete intake first."
  report:
    title: Report
  export:
    title: Export
    requires:
      - from: report
        reason: "Finish the report before exporting."
`

func mustParse(t *testing.T, yamlDoc string) *Pack {
	t.Helper()
	pack, err := Parse([]byte(yamlDoc))
	require.NoError(t, err)
	return pack
}

func TestParse_ValidPack(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)

	assert.Equal(t, "onboarding-suite", pack.Name)
	assert.True(t, pack.EnforceStepGating)
	assert.Len(t, pack.Journey, 3)
	assert.Len(t, pack.Workflows, 4)
	assert.True(t, pack.Declared("export"))
	assert.False(t, pack.Declared("absent"))
}

func TestParse_InvalidYAML(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("workflows: [not: a: map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse pack config")
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yamlDoc string
		wantErr string
	}{
		{
			name:    "missing name",
			yamlDoc: "workflows:\n  a: {}\n",
			wantErr: "pack name is required",
		},
		{
			name:    "no workflows",
			yamlDoc: "name: empty\n",
			wantErr: "declares no workflows",
		},
		{
			name: "undeclared requirement",
			yamlDoc: `
name: broken
workflows:
  b:
    requires:
      - from: missing
        reason: "Complete missing first."
`,
			wantErr: `requires undeclared workflow "missing"`,
		},
		{
			name: "self requirement",
			yamlDoc: `
name: broken
workflows:
  a:
    requires:
      - from: a
        reason: "Complete a first."
`,
			wantErr: "cannot require itself",
		},
		{
			name: "journey references undeclared workflow",
			yamlDoc: `
name: broken
journey:
  - step: one
    workflow: ghost
workflows:
  a: {}
`,
			wantErr: `references undeclared workflow "ghost"`,
		},
		{
			name: "duplicate journey step",
			yamlDoc: `
name: broken
journey:
  - step: one
    workflow: a
  - step: one
    workflow: b
workflows:
  a: {}
  b: {}
`,
			wantErr: `duplicate journey step "one"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yamlDoc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(onboardingPackYAML), 0o600))

	pack, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onboarding-suite", pack.Name)

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read pack config")
}

func TestRequiredGates_ExplicitOnly(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)

	gates := pack.RequiredGates("export")
	require.Len(t, gates, 1)
	assert.Equal(t, "report", gates[0].From)
	assert.Equal(t, "Finish the report before exporting.", gates[0].Reason)
}

func TestRequiredGates_ImplicitStepGate(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)

	// report has no explicit requires; step gating adds the previous
	// journey step.
	gates := pack.RequiredGates("report")
	require.Len(t, gates, 1)
	assert.Equal(t, "analysis", gates[0].From)
	assert.Contains(t, gates[0].Reason, `Complete "analysis"`)
}

func TestRequiredGates_ExplicitReasonWinsOverImplicit(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)

	// analysis explicitly requires intake, and intake is also its
	// previous journey step. The explicit reason must win.
	gates := pack.RequiredGates("analysis")
	require.Len(t, gates, 1)
	assert.Equal(t, "intake", gates[0].From)
	assert.Equal(t, "Complete intake first.", gates[0].Reason)
}

func TestRequiredGates_FirstJourneyStepHasNoImplicitGate(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)
	assert.Empty(t, pack.RequiredGates("intake"))
}

func TestRequiredGates_StepGatingDisabled(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)
	pack.EnforceStepGating = false

	assert.Empty(t, pack.RequiredGates("report"),
		"no implicit gates when step gating is off")
}

func TestRequiredGates_UndeclaredWorkflow(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)
	assert.Nil(t, pack.RequiredGates("absent"))
}

func TestWorkflowNames_Deterministic(t *testing.T) {
	t.Parallel()
	pack := mustParse(t, onboardingPackYAML)

	// Journey order first, then the rest alphabetically.
	want := []string{"intake", "analysis", "report", "export"}
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, pack.WorkflowNames())
	}
}
