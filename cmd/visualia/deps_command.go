package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"visualia/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check the engine binary and model files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.Check(deps.Requirements(cfg))
			missing := deps.Missing(statuses)
			if asJSON {
				if err := writeJSON(cmd, statuses); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					state := "ok"
					switch {
					case !status.Available && status.Optional:
						state = "optional"
					case !status.Available:
						state = "missing"
					}
					rows = append(rows, []string{status.Name, state, orDash(status.Target), status.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Dependency", "Status", "Target", "Detail"},
					rows,
				))
			}
			if len(missing) > 0 {
				return fmt.Errorf("%d required dependencies missing", len(missing))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
