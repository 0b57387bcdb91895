package main

import (
	"github.com/spf13/cobra"

	"visualia/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var withTUI bool
	var development bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the caption daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			level, err := ctx.logLevel()
			if err != nil {
				return err
			}
			configPath := ""
			if ctx.configExists {
				configPath = ctx.configPath
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    level,
				Development: development,
				ConfigPath:  configPath,
				TUI:         withTUI,
			})
		},
	}

	cmd.Flags().BoolVar(&withTUI, "tui", false, "Show live captions in the terminal")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
