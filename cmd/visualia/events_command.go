package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"visualia/internal/api"
	"visualia/internal/eventhub"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var since uint64
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print caption events from the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				query := api.EventsQuery{Since: since, Limit: limit, Tail: since == 0}
				for {
					resp, err := client.Events(cmd.Context(), query)
					if err != nil {
						if follow && errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					for _, evt := range resp.Events {
						if err := printEvent(out, evt, asJSON); err != nil {
							return err
						}
					}
					if !follow {
						return nil
					}
					query = api.EventsQuery{Since: resp.Next, Limit: limit, Follow: true}
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	cmd.Flags().Uint64Var(&since, "since", 0, "Only events after this sequence number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events per request")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output one JSON object per line")
	return cmd
}

func printEvent(out io.Writer, evt eventhub.UIEvent, asJSON bool) error {
	if asJSON {
		line, err := jsonLine(evt)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, line)
		return err
	}
	body := evt.Text
	if body == "" {
		body = evt.Message
	}
	if body == "" && len(evt.Data) > 0 {
		line, err := jsonLine(evt.Data)
		if err != nil {
			return err
		}
		body = line
	}
	ts := ""
	if !evt.Time.IsZero() {
		ts = evt.Time.Local().Format("15:04:05")
	}
	_, err := fmt.Fprintf(out, "%6d %s %-13s %-10s %s\n", evt.Seq, ts, evt.Kind, evt.Source, strings.TrimSpace(body))
	return err
}
