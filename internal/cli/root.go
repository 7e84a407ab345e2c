// Package cli wires the cobra command tree for the cutover tool.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/campusbridge/cutover/pkg/logger"
)

// GlobalOptions are shared by every subcommand.
type GlobalOptions struct {
	PlanFile string
	LogFile  string
	DryRun   bool
}

// NewRootCmd creates the root command and attaches all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cutover",
		Short: "cutover - cross-store migration and reconciliation pipeline",
		Long: `cutover migrates the operational dataset from the document store into the
relational store, keeps both consistent during the cutover window, and
relocates legacy attachments into content-addressed object storage.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogFile != "" {
				return logger.InitFile(opts.LogFile)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.PlanFile, "plan", "p", "configs/plan.json", "Path to the pipeline plan file")
	rootCmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "Mirror log output into this file")
	rootCmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "Report what would change without writing")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newVerifyCmd(opts))
	rootCmd.AddCommand(newRelocateCmd(opts))
	rootCmd.AddCommand(newAssignCmd(opts))

	return rootCmd
}
