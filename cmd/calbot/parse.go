package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"calbot/internal/config"
	"calbot/internal/intent"
	"calbot/internal/logging"
	"calbot/internal/orchestrator"
)

func newParseCmd() *cobra.Command {
	var (
		timezone string
		language string
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Print the intent extracted from a message without touching a calendar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.Discard()
			if verbose {
				logger = logging.New(os.Stderr, cfg.LogFormat, "debug")
			}
			cfg.CalendarBackend = "memory"
			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			client, err := newCompletionClient(cfg, nil, logger)
			if err != nil {
				return err
			}
			svc, err := newService(cfg, client, b, nil, logger)
			if err != nil {
				return err
			}

			in := svc.ExtractIntent(cmd.Context(), orchestrator.ExtractRequest{
				Text:     strings.Join(args, " "),
				UserID:   "cli",
				Timezone: timezone,
				Language: language,
			})
			out, err := json.MarshalIndent(struct {
				Kind              intent.Kind   `json:"kind"`
				NeedsConfirmation bool          `json:"needs_confirmation"`
				Intent            intent.Intent `json:"intent"`
			}{in.Kind(), intent.NeedsConfirmation(in), in}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone of the user (default DEFAULT_TIMEZONE)")
	cmd.Flags().StringVar(&language, "language", "", "language of the reply (default DEFAULT_LANGUAGE)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	return cmd
}
