package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/models"
	"github.com/campusbridge/cutover/pkg/retry"
)

// Reconciler enforces the one-active-relationship invariant across both
// stores. The supersede-then-insert sequence is strictly ordered per
// subject; there is no cross-store transaction, so a transient window where
// the stores disagree is accepted and left to the analyzer to detect.
type Reconciler struct {
	Source     SourceStore
	Target     TargetStore
	Collection string // source relationship collection
	Retry      retry.Config
	now        func() time.Time
}

// NewReconciler wires a reconciler over the given source collection.
func NewReconciler(src SourceStore, tgt TargetStore, collection string, rc retry.Config) *Reconciler {
	return &Reconciler{Source: src, Target: tgt, Collection: collection, Retry: rc, now: time.Now}
}

// Assignment pairs the two identity spaces of one new relationship. The
// source side carries document identifiers, the target side relational ones.
type Assignment struct {
	Source models.Relationship
	Target models.Relationship
}

// Assign applies a new relationship in both stores: deactivate every active
// record for the subject, then insert the new one as active. Target first,
// then source, each with the same ordering. If the insert fails after the
// deactivation, the subject is left with zero active records rather than
// two; that partial state is logged and picked up by the analyzer.
func (r *Reconciler) Assign(ctx context.Context, a Assignment) error {
	if a.Target.SubjectID == "" || a.Target.MentorID == "" {
		return errors.New("assignment requires target subject and mentor ids")
	}

	tgt := a.Target
	if tgt.ID == "" {
		tgt.ID = uuid.NewString()
	}
	tgt.IsActive = true
	if tgt.AssignedAt.IsZero() {
		tgt.AssignedAt = r.now()
	}
	if err := r.Target.SupersedeAndInsert(ctx, tgt); err != nil {
		return fmt.Errorf("target supersede+insert for subject %s: %w", tgt.SubjectID, err)
	}

	src := a.Source
	src.IsActive = true
	if src.AssignedAt.IsZero() {
		src.AssignedAt = tgt.AssignedAt
	}
	n, err := r.Source.DeactivateRelationships(ctx, r.Collection, src.SubjectID)
	if err != nil {
		return fmt.Errorf("source deactivate for subject %s: %w", src.SubjectID, err)
	}
	if err := r.Source.InsertRelationship(ctx, r.Collection, src); err != nil {
		// Deactivation already happened: the subject now has zero active
		// records in the source. Never two.
		logger.Errorf("source insert failed after deactivating %d records for subject %s: %v", n, src.SubjectID, err)
		return fmt.Errorf("source insert for subject %s: %w", src.SubjectID, err)
	}
	return nil
}

// Run migrates the active relationships of the source collection into the
// target store. For each subject the newest active source record wins; the
// target ends with at most one active record per subject. Already-agreeing
// subjects are skipped, which keeps re-runs cheap and idempotent.
func (r *Reconciler) Run(ctx context.Context, subjectCollections []string, rc *RunContext) (models.StageReport, error) {
	report := models.StageReport{Stage: StageReconcile}
	start := r.now()

	rels, err := r.Source.LoadRelationships(ctx, r.Collection)
	if err != nil {
		report.Duration = r.now().Sub(start)
		return report, fmt.Errorf("load %s: %w", r.Collection, err)
	}

	resolve, err := r.buildResolver(ctx, subjectCollections)
	if err != nil {
		report.Duration = r.now().Sub(start)
		return report, err
	}

	// Newest active record per subject, in the source identity space.
	latest := make(map[string]models.Relationship)
	for _, rel := range rels {
		report.Scanned++
		if !rel.IsActive {
			report.Skipped++
			continue
		}
		cur, ok := latest[rel.SubjectID]
		if !ok || rel.AssignedAt.After(cur.AssignedAt) {
			latest[rel.SubjectID] = rel
		}
	}

	// Deterministic order across runs.
	subjects := make([]string, 0, len(latest))
	for id := range latest {
		subjects = append(subjects, id)
	}
	sort.Strings(subjects)

	for _, srcSubjectID := range subjects {
		rel := latest[srcSubjectID]

		subjectTID, ok := resolve(rel.SubjectID)
		if !ok {
			report.AddFinding(models.FindingUnresolvedRef, rel.SubjectID, "relationship subject has no target match")
			continue
		}
		mentorTID, ok := resolve(rel.MentorID)
		if !ok {
			report.AddFinding(models.FindingUnresolvedRef, rel.MentorID, "relationship mentor has no target match")
			continue
		}

		current, err := r.Target.ActiveRelationship(ctx, subjectTID)
		switch {
		case err == nil && current.MentorID == mentorTID:
			report.Skipped++
			continue
		case err != nil && !errors.Is(err, ErrNotFound):
			report.Duration = r.now().Sub(start)
			return report, fmt.Errorf("active lookup for %s: %w", subjectTID, err)
		}

		if rc.DryRun {
			logger.Infof("[dry-run] would assign mentor %s to subject %s", mentorTID, subjectTID)
			report.Migrated++
			continue
		}

		tgt := models.Relationship{
			ID:         uuid.NewString(),
			SubjectID:  subjectTID,
			MentorID:   mentorTID,
			IsActive:   true,
			AssignedAt: rel.AssignedAt,
		}
		assignErr := retry.Do(ctx, r.Retry, func(ctx context.Context) error {
			return r.Target.SupersedeAndInsert(ctx, tgt)
		})
		if assignErr != nil {
			report.AddFinding(models.FindingRecordError, rel.SubjectID, assignErr.Error())
			continue
		}
		report.Migrated++
	}

	report.Duration = r.now().Sub(start)
	logger.Infof("reconcile done: scanned=%d migrated=%d skipped=%d errors=%d",
		report.Scanned, report.Migrated, report.Skipped, report.Errors)
	return report, nil
}

// buildResolver maps source subject ids to target ids by re-running the
// matcher over every subject collection, never a cached mapping.
func (r *Reconciler) buildResolver(ctx context.Context, subjectCollections []string) (func(string) (string, bool), error) {
	targets, err := r.Target.LoadSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("load target subjects: %w", err)
	}
	idx := BuildTargetIndex(targets)

	mapping := make(map[string]string)
	for _, coll := range subjectCollections {
		sources, err := r.Source.LoadSubjects(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", coll, err)
		}
		keys := BuildSourceKeys(sources)
		for _, src := range sources {
			if res := Match(src, idx, keys); res.Outcome == MatchFound {
				mapping[src.SourceID] = res.Target.TargetID
			}
		}
	}
	return func(sourceID string) (string, bool) {
		tid, ok := mapping[sourceID]
		return tid, ok
	}, nil
}
