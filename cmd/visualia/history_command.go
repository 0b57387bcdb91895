package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"visualia/internal/transcripts"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var session string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored captions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.TranscriptsPath()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "No transcripts recorded yet")
				return nil
			}
			store, err := transcripts.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit, session)
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []transcripts.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transcripts recorded yet")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					entry.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
					orDash(entry.Model),
					orDash(entry.SourceLanguage),
					truncate(entry.Text, 72),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Received", "Model", "Lang", "Text"},
				rows,
				0,
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&session, "session", "", "Only entries from this daemon session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
