package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlanJSON() []byte {
	return []byte(`{
		"version": "1",
		"subjectCollections": ["students", "mentors"],
		"mentorshipCollection": "mentorships",
		"fieldSpecs": [
			{"collection": "students", "field": "status", "op": "setDefault", "default": "active"},
			{"collection": "students", "field": "rollNo", "op": "rename", "renameTo": "rollNumber"}
		],
		"archiveCollections": ["legacy_logs"],
		"patterns": {
			"profile": {"kind": "profile", "keyField": "roll", "refField": "profileImageKey"}
		},
		"entityPairs": [
			{"name": "students", "kind": "subject", "sourceCollection": "students", "targetTable": "subjects", "lifecycle": "static"}
		]
	}`)
}

func TestLoadPlanValid(t *testing.T) {
	plan, err := LoadPlan(validPlanJSON())
	require.NoError(t, err)
	assert.Len(t, plan.FieldSpecs, 2)
	assert.Equal(t, "mentorships", plan.MentorshipCollection)
	assert.Equal(t, 4, plan.WorkerLimit(), "workers default")
	assert.Equal(t, 3, plan.Retries(), "retries default")
}

func TestPlanRejectsUnknownOp(t *testing.T) {
	p := &Plan{FieldSpecs: []FieldSpec{{Collection: "c", Field: "f", Op: "explode"}}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
}

func TestPlanRejectsSetDefaultWithoutDefault(t *testing.T) {
	p := &Plan{FieldSpecs: []FieldSpec{{Collection: "c", Field: "f", Op: OpSetDefault}}}
	assert.Error(t, p.Validate())
}

func TestPlanRejectsDuplicateSpecs(t *testing.T) {
	spec := FieldSpec{Collection: "c", Field: "f", Op: OpSetDefault, Default: "x"}
	p := &Plan{FieldSpecs: []FieldSpec{spec, spec}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestPlanRejectsBadPattern(t *testing.T) {
	p := &Plan{Patterns: map[string]PatternSpec{
		"profile": {Kind: "profile", KeyField: "nonsense", RefField: "x"},
	}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyField")
}

func TestPlanRejectsBadEntityPair(t *testing.T) {
	p := &Plan{EntityPairs: []EntityPair{
		{Name: "x", Kind: "subject", SourceCollection: "c", TargetTable: "t", Lifecycle: "sometimes"},
	}}
	assert.Error(t, p.Validate())

	p = &Plan{EntityPairs: []EntityPair{
		{Name: "x", Kind: "thing", SourceCollection: "c", TargetTable: "t", Lifecycle: LifecycleStatic},
	}}
	assert.Error(t, p.Validate())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ann@x.com", NormalizeEmail("  Ann@X.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}
