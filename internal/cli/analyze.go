package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chemviz/equipment-visualizer/internal/analysis"
	"github.com/chemviz/equipment-visualizer/internal/model"
	"github.com/chemviz/equipment-visualizer/internal/report"
)

func analyzeCommand(opts *Options) *cobra.Command {
	var (
		pdfPath string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file.csv>",
		Short: "Validate and summarize a CSV file without a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := afero.ReadFile(opts.fs, path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			rows, summary, err := analysis.Analyze(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return err
				}
			} else {
				printSummary(out, filepath.Base(path), summary)
			}

			if pdfPath == "" {
				return nil
			}
			ds := &model.Dataset{
				Filename:         filepath.Base(path),
				UploadedAt:       time.Now(),
				TotalCount:       summary.TotalCount,
				AvgFlowrate:      summary.AvgFlowrate,
				AvgPressure:      summary.AvgPressure,
				AvgTemperature:   summary.AvgTemperature,
				TypeDistribution: summary.TypeDistribution,
				Rows:             rows,
			}
			pdf, err := report.NewRenderer().RenderBytes(ds)
			if err != nil {
				return fmt.Errorf("failed to render report: %w", err)
			}
			if dir := filepath.Dir(pdfPath); dir != "." {
				if err := opts.fs.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := afero.WriteFile(opts.fs, pdfPath, pdf, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", pdfPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", pdfPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&pdfPath, "pdf", "", "also write a PDF report to this path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, title string, s *model.AnalysisSummary) {
	fmt.Fprintf(w, "%s\n\n", title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total equipment\t%d\n", s.TotalCount)
	fmt.Fprintf(tw, "Flowrate\tavg %.2f\tmin %.2f\tmax %.2f\n", s.AvgFlowrate, s.MinFlowrate, s.MaxFlowrate)
	fmt.Fprintf(tw, "Pressure\tavg %.2f\tmin %.2f\tmax %.2f\n", s.AvgPressure, s.MinPressure, s.MaxPressure)
	fmt.Fprintf(tw, "Temperature\tavg %.2f\tmin %.2f\tmax %.2f\n", s.AvgTemperature, s.MinTemperature, s.MaxTemperature)
	tw.Flush()

	fmt.Fprintln(w, "\nType distribution")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, tc := range s.RankedTypes() {
		fmt.Fprintf(tw, "  %s\t%d\n", tc.Type, tc.Count)
	}
	tw.Flush()
}
