package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/2beens/fitcoach/internal/coach/predictor"
	"github.com/2beens/fitcoach/internal/coach/progress"
)

func newExportCmd(opts *storeOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every progress record as JSON",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			store, closeStore, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeStore()) }()

			records, err := store.All(cmd.Context())
			if err != nil {
				return fmt.Errorf("read records: %w", err)
			}
			content, err := progress.EncodeRecords(records)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(content, '\n'))
				return err
			}
			if err := os.WriteFile(out, content, 0o644); err != nil {
				return fmt.Errorf("write export file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")

	return cmd
}

func newImportCmd(opts *storeOptions) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load progress records from a JSON export into the store",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			var content []byte
			if in == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(in)
			}
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}

			records, err := progress.DecodeRecords(content)
			if err != nil {
				return err
			}
			src := progress.NewMemoryStore()
			for userID, record := range records {
				if err := src.Put(cmd.Context(), userID, record); err != nil {
					return err
				}
			}

			dst, closeStore, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeStore()) }()

			copied, err := progress.Copy(cmd.Context(), dst, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", copied)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "JSON file to import, - for stdin")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func newPredictCmd() *cobra.Command {
	var in predictor.Inputs

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run the intensity scorer on the given inputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), predictor.Predict(in))
		},
	}
	cmd.Flags().Float64Var(&in.Energy, "energy", 5, "energy level, 1-10")
	cmd.Flags().IntVar(&in.SkippedDays, "skipped", 0, "skipped days")
	cmd.Flags().Float64Var(&in.CompletionRate, "completion", 0.5, "completion rate, 0-1")
	cmd.Flags().IntVar(&in.Availability, "availability", 1, "availability, 1-4")

	return cmd
}

func newStatusCmd(opts *storeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user id>",
		Short: "Show the derived status of one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, closeStore, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeStore()) }()

			status, err := userStatus(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func userStatus(ctx context.Context, store progress.Store, userID string) (*progress.Status, error) {
	record, err := store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	return progress.NewStatus(userID, *record, predictor.DefaultPolicy), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
