package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/campusbridge/cutover/internal/pipeline"
	"github.com/campusbridge/cutover/pkg/logger"
	"github.com/campusbridge/cutover/pkg/retry"
)

func newRelocateCmd(global *GlobalOptions) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "relocate",
		Short: "Relocate legacy attachments into object storage (identities must be synced)",
		RunE: func(c *cobra.Command, args []string) error {
			if root == "" {
				return errors.New("--attachments is required")
			}
			ctx := c.Context()

			s, err := openStores(ctx, global, !global.DryRun)
			if err != nil {
				return err
			}
			defer s.close()

			rc := pipeline.NewRunContext(global.DryRun, nil, s.cfg.InstitutionID)
			rcfg := retry.DefaultConfig().WithAttempts(s.plan.Retries())
			relocator := pipeline.NewRelocator(s.source, s.target, s.object, rcfg, s.plan.WorkerLimit())

			report, err := relocator.Run(ctx, root, s.plan, rc)
			logger.Infof("relocate: scanned=%d uploaded=%d skipped=%d errors=%d findings=%d",
				report.Scanned, report.Migrated, report.Skipped, report.Errors, len(report.Findings))
			for _, f := range report.Findings {
				logger.Warnf("finding [%s] %s: %s", f.Kind, f.Subject, f.Detail)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&root, "attachments", "", "Legacy attachment root directory")
	return cmd
}
