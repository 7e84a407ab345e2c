package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbridge/cutover/pkg/models"
)

func analyzerPlan() *models.Plan {
	return &models.Plan{
		SubjectCollections:   []string{"students"},
		MentorshipCollection: "mentorships",
		EntityPairs: []models.EntityPair{
			{Name: "students", Kind: models.EntitySubject, SourceCollection: "students", TargetTable: "subjects", Lifecycle: models.LifecycleStatic},
			{Name: "mentorships", Kind: models.EntityRelationship, SourceCollection: "mentorships", TargetTable: "mentorships", Lifecycle: models.LifecycleGrowing},
		},
	}
}

func TestAnalyzeZeroDelta(t *testing.T) {
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	students := report.Entities[0]
	assert.Equal(t, int64(0), students.Delta)
	assert.Empty(t, students.Cause)
	assert.Empty(t, report.Violations)
}

func TestAnalyzeDuplicateEmailDelta(t *testing.T) {
	// The duplicate-email pair the synchronizer refused to create: delta 2,
	// documented as duplicate keys, not data loss.
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{
		{SourceID: "S1", Email: "a@x.com"},
		{SourceID: "S2", Email: "a@x.com"},
		{SourceID: "S3", Email: "c@x.com"},
	}
	tgt := newFakeTarget(models.Subject{TargetID: "T3", Email: "c@x.com"})

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	students := report.Entities[0]
	assert.Equal(t, int64(2), students.Delta)
	assert.Equal(t, models.CauseDuplicateNaturalKey, students.Cause)
	assert.Equal(t, []string{"a@x.com"}, students.DuplicateKeys)
}

func TestAnalyzeUnsyncedSubjects(t *testing.T) {
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{
		{SourceID: "S1", Email: "a@x.com"},
		{SourceID: "S2", Email: "b@x.com"},
	}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	students := report.Entities[0]
	assert.Equal(t, models.CauseUnsyncedSubject, students.Cause)
	assert.Equal(t, []string{"b@x.com"}, students.UnmatchedKeys)
}

func TestAnalyzeOrphanRelationshipRefs(t *testing.T) {
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	src.rels["mentorships"] = []models.Relationship{
		{ID: "r1", SubjectID: "sGhost", MentorID: "S1", IsActive: true},
	}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	mentorships := report.Entities[1]
	assert.Equal(t, models.CauseOrphanReference, mentorships.Cause)
	assert.Equal(t, []string{"sGhost"}, mentorships.OrphanRefs)
}

func TestAnalyzePostCutoverGrowth(t *testing.T) {
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	src.rels["mentorships"] = []models.Relationship{
		{ID: "r1", SubjectID: "S1", MentorID: "S1", IsActive: true},
	}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})
	// Target has zero mentorship rows; the source record resolves cleanly,
	// so the positive delta is growth, not a sync failure.

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	mentorships := report.Entities[1]
	assert.Equal(t, int64(1), mentorships.Delta)
	assert.Equal(t, models.CausePostCutoverGrowth, mentorships.Cause)
}

func TestAnalyzeDetectsDoubleActiveViolation(t *testing.T) {
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	src.rels["mentorships"] = []models.Relationship{
		{ID: "s1", SubjectID: "S1", MentorID: "M", IsActive: true},
	}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})
	tgt.rels = []models.Relationship{
		{ID: "r1", SubjectID: "T1", MentorID: "M1", IsActive: true},
		{ID: "r2", SubjectID: "T1", MentorID: "M2", IsActive: true},
	}

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	require.Len(t, report.Violations, 1)
	assert.Equal(t, "T1", report.Violations[0].SubjectID)
	assert.Equal(t, 2, report.Violations[0].ActiveCount)
	assert.Equal(t, "target", report.Violations[0].Store)
}

func TestAnalyzeDetectsZeroActivePartialState(t *testing.T) {
	// The state a crashed dual-store assignment leaves behind: the target
	// committed its new active record, the source insert never happened.
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{{SourceID: "S1", Email: "a@x.com"}}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})
	tgt.rels = []models.Relationship{
		{ID: "r1", SubjectID: "T1", MentorID: "M1", IsActive: true},
	}

	report, err := NewAnalyzer(src, tgt).Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.Equal(t, "T1", v.SubjectID)
	assert.Equal(t, 0, v.ActiveCount)
	assert.Equal(t, "source", v.Store)
	assert.Contains(t, v.Detail, "none in source")
}

func TestAnalyzeIsReadOnly(t *testing.T) {
	src := newFakeSource()
	src.subjects["students"] = []models.Subject{
		{SourceID: "S1", Email: "a@x.com"},
		{SourceID: "S2", Email: "b@x.com"},
	}
	tgt := newFakeTarget(models.Subject{TargetID: "T1", Email: "a@x.com"})

	a := NewAnalyzer(src, tgt)
	first, err := a.Run(context.Background(), analyzerPlan())
	require.NoError(t, err)
	second, err := a.Run(context.Background(), analyzerPlan())
	require.NoError(t, err)

	assert.Equal(t, first.Entities[0].SourceCount, second.Entities[0].SourceCount)
	assert.Equal(t, first.Entities[0].TargetCount, second.Entities[0].TargetCount)
	assert.Len(t, src.subjects["students"], 2)
	assert.Len(t, tgt.subjects, 1)
	assert.Equal(t, 0, tgt.inserts)
}
