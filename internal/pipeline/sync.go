package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/models"
	"github.com/campusbridge/cutover/pkg/retry"
)

// Synchronizer ensures every source subject has exactly one counterpart in
// the target store. It re-runs the matcher before every create and never
// trusts a mapping cached from an earlier run, which is what makes repeated
// invocations duplicate-free.
type Synchronizer struct {
	Source SourceStore
	Target TargetStore
	Retry  retry.Config
	// Force overwrites matched target subjects from source data. Off by
	// default: a matched subject is left untouched.
	Force bool
	now   func() time.Time
}

// NewSynchronizer wires a synchronizer across the two stores.
func NewSynchronizer(src SourceStore, tgt TargetStore, rc retry.Config) *Synchronizer {
	return &Synchronizer{Source: src, Target: tgt, Retry: rc, now: time.Now}
}

// Run synchronizes every configured subject collection.
func (s *Synchronizer) Run(ctx context.Context, collections []string, rc *RunContext) (models.StageReport, error) {
	report := models.StageReport{Stage: StageSync}
	start := s.now()

	for _, coll := range collections {
		if err := s.syncCollection(ctx, coll, rc, &report); err != nil {
			report.Duration = s.now().Sub(start)
			return report, fmt.Errorf("sync %s: %w", coll, err)
		}
	}

	report.Duration = s.now().Sub(start)
	logger.Infof("sync done: scanned=%d created=%d skipped=%d errors=%d",
		report.Scanned, report.Migrated, report.Skipped, report.Errors)
	return report, nil
}

func (s *Synchronizer) syncCollection(ctx context.Context, collection string, rc *RunContext, report *models.StageReport) error {
	sources, err := s.Source.LoadSubjects(ctx, collection)
	if err != nil {
		return err
	}
	// The index is rebuilt per collection so subjects created for an
	// earlier collection are visible to later ones in the same run.
	targets, err := s.Target.LoadSubjects(ctx)
	if err != nil {
		return err
	}
	idx := BuildTargetIndex(targets)
	keys := BuildSourceKeys(sources)

	for _, src := range sources {
		report.Scanned++
		if _, err := s.syncOne(ctx, collection, src, idx, keys, rc, report); err != nil {
			return err
		}
	}
	return nil
}

// syncOne resolves one source subject to a target identifier, creating the
// target row if no match exists. Store-level failures return an error;
// record-level outcomes land in the report.
func (s *Synchronizer) syncOne(ctx context.Context, collection string, src models.Subject, idx *TargetIndex, keys *SourceKeys, rc *RunContext, report *models.StageReport) (string, error) {
	res := Match(src, idx, keys)
	switch res.Outcome {
	case MatchFound:
		// Already synchronized. Left unmodified unless forced.
		if !s.Force {
			report.Skipped++
			return res.Target.TargetID, nil
		}
		return s.forceUpdate(ctx, src, res.Target.TargetID, rc, report)
	case MatchAmbiguous:
		report.AddFinding(models.FindingAmbiguousMatch, src.SourceID, res.Reason)
		return "", nil
	}

	created := src
	created.TargetID = uuid.NewString()
	if !created.HasEmail() {
		// Deterministic placeholder so re-runs produce the same row shape.
		created.Email = fmt.Sprintf("%s@placeholder.invalid", src.SourceID)
	}
	hash, err := tempCredential()
	if err != nil {
		return "", fmt.Errorf("credential for %s: %w", src.SourceID, err)
	}

	if rc.DryRun {
		logger.Infof("[dry-run] would create subject %s for %s/%s", created.TargetID, collection, src.SourceID)
		report.Migrated++
		return created.TargetID, nil
	}

	insertErr := retry.Do(ctx, s.Retry, func(ctx context.Context) error {
		return s.Target.InsertSubject(ctx, created, hash)
	})
	if insertErr != nil {
		report.AddFinding(models.FindingRecordError, src.SourceID, insertErr.Error())
		return "", nil
	}
	report.Migrated++
	return created.TargetID, nil
}

// forceUpdate overwrites the matched target row with source data.
func (s *Synchronizer) forceUpdate(ctx context.Context, src models.Subject, targetID string, rc *RunContext, report *models.StageReport) (string, error) {
	if rc.DryRun {
		logger.Infof("[dry-run] would overwrite subject %s from %s", targetID, src.SourceID)
		report.Migrated++
		return targetID, nil
	}
	updated := src
	updated.TargetID = targetID
	err := retry.Do(ctx, s.Retry, func(ctx context.Context) error {
		return s.Target.UpdateSubject(ctx, updated)
	})
	if err != nil {
		report.AddFinding(models.FindingRecordError, src.SourceID, err.Error())
		return "", nil
	}
	report.Migrated++
	return targetID, nil
}

// tempCredential hashes a throwaway random secret. Created subjects cannot
// log in until a real credential reset happens.
func tempCredential() (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
