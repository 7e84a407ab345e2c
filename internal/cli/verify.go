package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/campusbridge/cutover/internal/pipeline"
)

func newVerifyCmd(global *GlobalOptions) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the read-only discrepancy analysis and print the classified report",
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			s, err := openStores(ctx, global, false)
			if err != nil {
				return err
			}
			defer s.close()

			report, err := pipeline.NewAnalyzer(s.source, s.target).Run(ctx, s.plan)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			if outFile != "" {
				return os.WriteFile(outFile, data, 0o644)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the report to this file instead of stdout")
	return cmd
}
