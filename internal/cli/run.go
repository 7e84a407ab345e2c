package cli

import (
	"github.com/spf13/cobra"

	"github.com/campusbridge/cutover/internal/pipeline"
	"github.com/campusbridge/cutover/pkg/logger"
)

type runOptions struct {
	Skip           []string
	AttachmentRoot string
	Force          bool
}

func newRunCmd(global *GlobalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the staged pipeline (transform, sync, reconcile, relocate)",
		RunE: func(c *cobra.Command, args []string) error {
			return runPipeline(c, global, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Skip, "skip", nil, "Stages to skip (transform, sync, reconcile, relocate)")
	cmd.Flags().StringVar(&opts.AttachmentRoot, "attachments", "", "Legacy attachment root for the relocate stage")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite matched target subjects from source data")

	return cmd
}

func runPipeline(cmd *cobra.Command, global *GlobalOptions, opts *runOptions) error {
	ctx := cmd.Context()

	withObjects := opts.AttachmentRoot != "" && !contains(opts.Skip, pipeline.StageRelocate) && !global.DryRun
	s, err := openStores(ctx, global, withObjects)
	if err != nil {
		return err
	}
	defer s.close()

	rc := pipeline.NewRunContext(global.DryRun, opts.Skip, s.cfg.InstitutionID)
	p := &pipeline.Pipeline{
		Source:         s.source,
		Target:         s.target,
		Objects:        s.object,
		Plan:           s.plan,
		AttachmentRoot: opts.AttachmentRoot,
		Force:          opts.Force,
	}

	report, err := p.Run(ctx, rc)
	for _, stage := range report.Stages {
		logger.Infof("stage %-10s scanned=%d migrated=%d skipped=%d errors=%d findings=%d (%s)",
			stage.Stage, stage.Scanned, stage.Migrated, stage.Skipped, stage.Errors, len(stage.Findings), stage.Duration)
	}
	if err != nil {
		return err
	}
	logger.Infof("pipeline finished (dryRun=%v)", rc.DryRun)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
