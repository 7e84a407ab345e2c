// Package pipeline implements the cross-store migration and reconciliation
// stages: source-internal schema migration, cross-store identity sync,
// relationship reconciliation, attachment relocation and read-only
// discrepancy analysis.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/models"
	"github.com/campusbridge/cutover/pkg/retry"
)

// Stage names, as used by --skip and in reports.
const (
	StageTransform = "transform"
	StageSync      = "sync"
	StageReconcile = "reconcile"
	StageRelocate  = "relocate"
)

// RunContext is the explicit per-run state threaded through every stage
// call. Progress lives in the returned reports, not in shared state.
type RunContext struct {
	DryRun        bool
	Skip          map[string]bool
	InstitutionID string
	StartedAt     time.Time
}

// NewRunContext builds a run context; skip entries name stages to leave out.
func NewRunContext(dryRun bool, skip []string, institutionID string) *RunContext {
	s := make(map[string]bool, len(skip))
	for _, name := range skip {
		s[name] = true
	}
	return &RunContext{DryRun: dryRun, Skip: s, InstitutionID: institutionID, StartedAt: time.Now()}
}

// Pipeline runs the stages in cutover order. Attachment relocation is
// independent of the others and also available standalone.
type Pipeline struct {
	Source  SourceStore
	Target  TargetStore
	Objects ObjectStore
	Plan    *models.Plan

	// AttachmentRoot is the legacy file hierarchy to relocate. Empty skips
	// the relocate stage.
	AttachmentRoot string
	// Force makes the sync stage overwrite matched target subjects.
	Force bool
}

// Run executes transform, sync, reconcile and relocate in order, honoring
// the run context's skip set. A stage-level failure aborts the run; the
// partial report is still returned for the operator.
func (p *Pipeline) Run(ctx context.Context, rc *RunContext) (*models.RunReport, error) {
	run := &models.RunReport{StartedAt: rc.StartedAt, DryRun: rc.DryRun}
	rcfg := retry.DefaultConfig().WithAttempts(p.Plan.Retries())

	type stage struct {
		name string
		fn   func(context.Context) (models.StageReport, error)
	}
	stages := []stage{
		{StageTransform, func(ctx context.Context) (models.StageReport, error) {
			return NewTransformer(p.Source, rcfg).Run(ctx, p.Plan.FieldSpecs, p.Plan.ArchiveCollections, rc)
		}},
		{StageSync, func(ctx context.Context) (models.StageReport, error) {
			sync := NewSynchronizer(p.Source, p.Target, rcfg)
			sync.Force = p.Force
			return sync.Run(ctx, p.Plan.SubjectCollections, rc)
		}},
		{StageReconcile, func(ctx context.Context) (models.StageReport, error) {
			return NewReconciler(p.Source, p.Target, p.Plan.MentorshipCollection, rcfg).Run(ctx, p.Plan.SubjectCollections, rc)
		}},
		{StageRelocate, func(ctx context.Context) (models.StageReport, error) {
			return NewRelocator(p.Source, p.Target, p.Objects, rcfg, p.Plan.WorkerLimit()).Run(ctx, p.AttachmentRoot, p.Plan, rc)
		}},
	}

	for _, s := range stages {
		if rc.Skip[s.name] {
			logger.Infof("stage %s skipped by configuration", s.name)
			continue
		}
		if s.name == StageRelocate && p.AttachmentRoot == "" {
			logger.Infof("stage %s skipped: no attachment root configured", s.name)
			continue
		}
		logger.Infof("stage %s starting (dryRun=%v)", s.name, rc.DryRun)
		report, err := s.fn(ctx)
		run.Stages = append(run.Stages, report)
		if err != nil {
			return run, fmt.Errorf("stage %s: %w", s.name, err)
		}
	}
	return run, nil
}
