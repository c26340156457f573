package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/zootally/internal/tally"
)

func getExportCmd(a *app) *cobra.Command {
	var (
		enclosures []string
		start, end string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export count records to an xlsx file",
		Long: `Export animal, group and species counts recorded in the given enclosures
between --start and --end (inclusive, YYYY-MM-DD). Times are rendered in
EXPORT_TIMEZONE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := tally.ExportFilter{Enclosures: enclosures}
			var err error
			if f.Start, err = time.Parse(tally.DateLayout, start); err != nil {
				return fmt.Errorf("--start: want YYYY-MM-DD, got %q", start)
			}
			if f.End, err = time.Parse(tally.DateLayout, end); err != nil {
				return fmt.Errorf("--end: want YYYY-MM-DD, got %q", end)
			}
			if err := f.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := a.service(st)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := svc.Export(ctx, f, &buf); err != nil {
				return err
			}
			if output == "" {
				output = tally.ExportFileName(f)
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", output, humanize.IBytes(uint64(buf.Len())))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&enclosures, "enclosure", "e", nil, "enclosure name (repeatable)")
	cmd.Flags().StringVar(&start, "start", "", "first counting date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last counting date, YYYY-MM-DD")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: derived from the filter)")
	_ = cmd.MarkFlagRequired("enclosure")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
