package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbridge/cutover/pkg/models"
)

func fullPlan() *models.Plan {
	return &models.Plan{
		SubjectCollections:   []string{"students", "mentors"},
		MentorshipCollection: "mentorships",
		FieldSpecs: []models.FieldSpec{
			{Collection: "students", Field: "status", Op: models.OpSetDefault, Default: "active"},
		},
		EntityPairs: []models.EntityPair{
			{Name: "students", Kind: models.EntitySubject, SourceCollection: "students", TargetTable: "subjects", Lifecycle: models.LifecycleStatic},
		},
	}
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	src := newFakeSource()
	src.docs["students"] = []map[string]interface{}{{"_id": "a"}}
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	tgt := newFakeTarget()

	p := &Pipeline{Source: src, Target: tgt, Plan: fullPlan()}
	report, err := p.Run(context.Background(), NewRunContext(false, nil, "I9"))
	require.NoError(t, err)

	// Relocate is skipped without an attachment root.
	require.Len(t, report.Stages, 3)
	assert.Equal(t, StageTransform, report.Stages[0].Stage)
	assert.Equal(t, StageSync, report.Stages[1].Stage)
	assert.Equal(t, StageReconcile, report.Stages[2].Stage)

	assert.Len(t, tgt.subjects, 1, "sync stage ran")
	assert.Equal(t, "active", src.docs["students"][0]["status"], "transform stage ran")
}

func TestPipelineHonorsSkip(t *testing.T) {
	src := newFakeSource()
	src.docs["students"] = []map[string]interface{}{{"_id": "a"}}
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	tgt := newFakeTarget()

	p := &Pipeline{Source: src, Target: tgt, Plan: fullPlan()}
	report, err := p.Run(context.Background(), NewRunContext(false, []string{StageTransform, StageReconcile}, "I9"))
	require.NoError(t, err)

	require.Len(t, report.Stages, 1)
	assert.Equal(t, StageSync, report.Stages[0].Stage)
	_, has := src.docs["students"][0]["status"]
	assert.False(t, has, "skipped transform must not mutate")
}

func TestPipelineDryRunEndToEnd(t *testing.T) {
	src := newFakeSource()
	src.docs["students"] = []map[string]interface{}{{"_id": "a"}}
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	tgt := newFakeTarget()

	p := &Pipeline{Source: src, Target: tgt, Plan: fullPlan()}
	report, err := p.Run(context.Background(), NewRunContext(true, nil, "I9"))
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 0, src.updateCalls)
	assert.Equal(t, 0, tgt.inserts)
}
