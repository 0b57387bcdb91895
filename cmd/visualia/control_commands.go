package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"visualia/internal/api"
	"visualia/internal/config"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the caption channel status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				st, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, st)
				}
				out := cmd.OutOrStdout()
				for _, line := range renderStatus(st, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newModelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "model <name>",
		Short:     "Relaunch the engine with another model",
		Long:      "Relaunch the engine with a model selector (" + strings.Join(config.Models(), ", ") + ") or a .gguf file from engine.models_dir.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.Models(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if !validModel(name) {
				return fmt.Errorf("unknown model %q (expected one of %s, or a .gguf file)", name, strings.Join(config.Models(), ", "))
			}
			return requestConfig(cmd, ctx, api.ConfigRequest{Model: name})
		},
	}
}

func newLangCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "lang <code>",
		Short:     "Relaunch the engine with another source language",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.Languages(),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, err := config.NormalizeLanguage(args[0])
			if err != nil {
				return err
			}
			return requestConfig(cmd, ctx, api.ConfigRequest{SourceLanguage: lang})
		},
	}
}

func requestConfig(cmd *cobra.Command, ctx *commandContext, req api.ConfigRequest) error {
	return ctx.withClient(func(client *api.Client) error {
		resp, err := client.ChangeConfig(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Relaunch queued: model %s, language %s\n", resp.Pending.Model, resp.Pending.SourceLanguage)
		return nil
	})
}

func validModel(name string) bool {
	if strings.HasSuffix(strings.ToLower(name), ".gguf") {
		return true
	}
	return slices.Contains(config.Models(), strings.ToLower(name))
}

func newSendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "send <type> [json-object]",
		Short: "Write a raw message to the engine",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.SendRequest{Type: strings.TrimSpace(args[0])}
			if len(args) == 2 {
				var object map[string]json.RawMessage
				if err := json.Unmarshal([]byte(args[1]), &object); err != nil {
					return fmt.Errorf("data must be a JSON object: %w", err)
				}
				req.Data = json.RawMessage(args[1])
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Send(cmd.Context(), req)
				if err != nil {
					return err
				}
				if !resp.Delivered {
					fmt.Fprintln(cmd.OutOrStdout(), "Engine not attached; message dropped")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Message delivered")
				return nil
			})
		},
	}
}
