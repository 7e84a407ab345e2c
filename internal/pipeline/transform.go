package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/models"
	"github.com/campusbridge/cutover/pkg/retry"
)

// Transformer applies declarative field-specs to source collections and
// archives fully-superseded legacy collections. Every mutation's predicate
// excludes already-migrated documents, so re-running against a live source
// is a no-op for anything touched before.
type Transformer struct {
	Source SourceStore
	Retry  retry.Config
	now    func() time.Time
}

// NewTransformer wires a transformer against the source store.
func NewTransformer(src SourceStore, rc retry.Config) *Transformer {
	return &Transformer{Source: src, Retry: rc, now: time.Now}
}

// Run applies every field-spec, then archives the configured legacy
// collections. Per-record errors are counted and never abort the batch.
func (t *Transformer) Run(ctx context.Context, specs []models.FieldSpec, archive []string, rc *RunContext) (models.StageReport, error) {
	report := models.StageReport{Stage: StageTransform}
	start := t.now()

	for _, spec := range specs {
		if err := t.applySpec(ctx, spec, rc, &report); err != nil {
			// A spec-level failure (collection unreachable) aborts the
			// stage: every remaining document would fail the same way.
			report.Duration = t.now().Sub(start)
			return report, fmt.Errorf("field-spec %s.%s: %w", spec.Collection, spec.Field, err)
		}
	}

	for _, coll := range archive {
		if err := t.archiveCollection(ctx, coll, rc, &report); err != nil {
			report.Duration = t.now().Sub(start)
			return report, fmt.Errorf("archive %s: %w", coll, err)
		}
	}

	report.Duration = t.now().Sub(start)
	logger.Infof("transform done: scanned=%d migrated=%d skipped=%d errors=%d",
		report.Scanned, report.Migrated, report.Skipped, report.Errors)
	return report, nil
}

// predicate builds the filter that selects only not-yet-migrated documents.
func predicate(spec models.FieldSpec) map[string]interface{} {
	switch spec.Op {
	case models.OpRename:
		// Old field still present.
		return map[string]interface{}{spec.Field: map[string]interface{}{"$exists": true}}
	case models.OpDerive:
		// Target absent and the derivation source present.
		return map[string]interface{}{
			spec.Field:      map[string]interface{}{"$exists": false},
			spec.DeriveFrom: map[string]interface{}{"$exists": true},
		}
	default: // OpSetDefault
		return map[string]interface{}{spec.Field: map[string]interface{}{"$exists": false}}
	}
}

func (t *Transformer) applySpec(ctx context.Context, spec models.FieldSpec, rc *RunContext, report *models.StageReport) error {
	total, err := t.Source.Count(ctx, spec.Collection, nil)
	if err != nil {
		return err
	}

	migrated := 0
	errored := 0
	err = t.Source.EnumerateCollection(ctx, spec.Collection, predicate(spec), func(doc map[string]interface{}) error {
		id, ok := doc["_id"]
		if !ok {
			errored++
			report.AddFinding(models.FindingRecordError, "", fmt.Sprintf("%s: document without _id", spec.Collection))
			return nil
		}

		set, unset, buildErr := mutation(spec, doc)
		if buildErr != nil {
			errored++
			report.AddFinding(models.FindingRecordError, fmt.Sprintf("%v", id), buildErr.Error())
			return nil
		}

		if rc.DryRun {
			migrated++
			return nil
		}
		updateErr := retry.Do(ctx, t.Retry, func(ctx context.Context) error {
			return t.Source.UpdateByID(ctx, spec.Collection, id, set, unset)
		})
		if updateErr != nil {
			errored++
			report.AddFinding(models.FindingRecordError, fmt.Sprintf("%v", id), updateErr.Error())
			return nil
		}
		migrated++
		return nil
	})
	if err != nil {
		return err
	}

	report.Scanned += int(total)
	report.Migrated += migrated
	// Documents that failed the predicate were already in shape.
	report.Skipped += int(total) - migrated - errored
	logger.Infof("transform %s.%s (%s): %d/%d migrated", spec.Collection, spec.Field, spec.Op, migrated, total)
	return nil
}

// mutation builds the set/unset pair one field-spec applies to a document.
func mutation(spec models.FieldSpec, doc map[string]interface{}) (map[string]interface{}, []string, error) {
	switch spec.Op {
	case models.OpSetDefault:
		return map[string]interface{}{spec.Field: spec.Default}, nil, nil
	case models.OpRename:
		val, ok := doc[spec.Field]
		if !ok {
			return nil, nil, fmt.Errorf("rename source field %s missing", spec.Field)
		}
		// Copy then unset in one update so the two names never co-exist.
		return map[string]interface{}{spec.RenameTo: val}, []string{spec.Field}, nil
	case models.OpDerive:
		val, ok := doc[spec.DeriveFrom]
		if !ok {
			return nil, nil, fmt.Errorf("derive source field %s missing", spec.DeriveFrom)
		}
		return map[string]interface{}{spec.Field: val}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown op %q", spec.Op)
	}
}

// archiveCollection renames a non-empty legacy collection to a timestamped
// archive name. Empty or absent collections are skipped without error, and
// nothing is ever dropped.
func (t *Transformer) archiveCollection(ctx context.Context, coll string, rc *RunContext, report *models.StageReport) error {
	n, err := t.Source.Count(ctx, coll, nil)
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Infof("archive: %s empty or absent, skipping", coll)
		report.Skipped++
		return nil
	}
	archived := fmt.Sprintf("%s_archived_%s", coll, t.now().UTC().Format("20060102150405"))
	if rc.DryRun {
		logger.Infof("[dry-run] would rename %s -> %s (%d docs)", coll, archived, n)
		report.Migrated++
		return nil
	}
	if err := t.Source.RenameCollection(ctx, coll, archived); err != nil {
		return err
	}
	logger.Infof("archived %s -> %s (%d docs)", coll, archived, n)
	report.Migrated++
	return nil
}
