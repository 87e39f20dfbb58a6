package main

import (
	"fmt"
	"strconv"

	"seccopilot/internal/credentials"
	"seccopilot/internal/domain"
	"seccopilot/internal/transcripts"

	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <company> <report_type>",
		Short: "Print a company's latest SEC filing (e.g. report AAPL 10-K)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fetcher, err := newFilingFetcher(cfg)
			if err != nil {
				return err
			}
			res := fetcher.FetchFiling(cmd.Context(), args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), res.Body)
			if res.Status == domain.StatusError {
				return fmt.Errorf("fetch %s %s failed", args[0], args[1])
			}
			return nil
		},
	}
}

func transcriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <ticker> [year quarter]",
		Short: "Print an earnings call transcript, the latest or a specific quarter",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("expected <ticker> or <ticker> <year> <quarter>, got %d args", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := credentials.Load(envPath)
			if err != nil {
				return err
			}
			calls, err := newTranscriptClient(cfg, creds)
			if err != nil {
				return err
			}

			var res domain.TranscriptResult
			if len(args) == 1 {
				res = calls.Latest(cmd.Context(), args[0])
			} else {
				year, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("year must be an integer: %w", err)
				}
				quarter, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("quarter must be an integer: %w", err)
				}
				if res, err = calls.Specific(cmd.Context(), args[0], year, quarter); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), transcripts.Format(res, cfg.Transcripts.MaxChars))
			return nil
		},
	}
}
