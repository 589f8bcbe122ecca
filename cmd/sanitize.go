package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suggest-data/sanitizer-cli/internal/job"
	"github.com/suggest-data/sanitizer-cli/internal/reference"
	"github.com/suggest-data/sanitizer-cli/internal/risk"
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Run the nightly sanitation job over one day's search terms",
	Long: `Pages through one calendar day of raw search queries, removes those at
risk of containing PII, exports the survivors and a small unsanitized
validation sample, and records aggregate job metadata.

The run ends in exactly one SUCCESS or FAILURE record; a rerun of the same
day replaces that day's exported partitions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "sanitize"))

		dateStr, _ := cmd.Flags().GetString("date")
		notes, _ := cmd.Flags().GetString("notes")
		if notes == "" {
			notes = cfg.Job.Notes
		}

		day, err := parseDay(dateStr)
		if err != nil {
			return eris.Wrap(err, "sanitize")
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "sanitize: open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sanitize: migrate")
		}

		surnames, err := reference.LoadSurnamesFile(ctx, cfg.Reference.SurnamesPath)
		if err != nil {
			return eris.Wrap(err, "sanitize: load surnames")
		}
		log.Info("reference data loaded", zap.Int("surnames", len(surnames)))

		// The NLP models load once here and are shared read-only across
		// every page of the run.
		classifier := risk.NewProseClassifier()
		pipeline := risk.NewPipeline(classifier, surnames, cfg.Job.Workers)

		driver := job.NewDriver(st, pipeline, cfg.Job.ExportPerSec)
		rec, err := driver.Run(ctx, job.Options{
			Day:        day,
			PageSize:   cfg.Job.PageSize,
			SampleRate: cfg.Job.SampleRate,
			Notes:      notes,
		})
		if err != nil {
			return eris.Wrap(err, "sanitize")
		}

		fmt.Printf("Sanitation complete: %d analyzed, %d removed (job %s)\n",
			rec.TotalAnalyzed, rec.TotalRemoved, rec.ID)
		return nil
	},
}

func init() {
	sanitizeCmd.Flags().String("date", "", "day to sanitize as YYYY-MM-DD (default: yesterday)")
	sanitizeCmd.Flags().String("notes", "", "implementation notes recorded with the job metadata")
	rootCmd.AddCommand(sanitizeCmd)
}
