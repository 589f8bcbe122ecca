package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suggest-data/sanitizer-cli/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Derive drift-monitoring metrics from successful job runs",
	Long: `Computes per-run validation metrics (share of terms sanitized, per-reason
removal rates, uppercase ratio, average word count, non-English share) from
successful job records, and stores them for longitudinal comparison.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "validate"))

		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		tableName, _ := cmd.Flags().GetString("destination")

		// Table identifiers cannot be parameterized; reject anything
		// suspicious before querying.
		if tableName != "" {
			if err := validation.ValidateTableName(tableName); err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "validate: open store")
		}
		defer st.Close()

		jobs, err := st.ListJobs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "validate: list jobs")
		}

		metrics := validation.Compute(jobs)
		if len(metrics) == 0 {
			fmt.Println("No successful job runs to validate")
			return nil
		}

		for _, m := range metrics {
			fmt.Printf("%s  sanitized=%.4f at=%.4f numbers=%.4f name=%.4f surname=%.4f upper=%.4f words=%.2f non_en=%.4f\n",
				m.FinishedAt.Format("2006-01-02"),
				m.PctSanitizedTerms, m.PctContainedAt, m.PctContainedNumbers,
				m.PctContainedName, m.PctContainedSurname, m.PctUppercaseChars,
				m.AvgWordsPerTerm, m.PctTermsNonEnglish)
		}

		if dryRun {
			return nil
		}

		if err := st.InsertValidationMetrics(ctx, metrics); err != nil {
			return eris.Wrap(err, "validate: store metrics")
		}
		log.Info("validation metrics stored", zap.Int("rows", len(metrics)))
		return nil
	},
}

func init() {
	validateCmd.Flags().Int("limit", 90, "max job runs to compute metrics over")
	validateCmd.Flags().Bool("dry-run", false, "print metrics without storing them")
	validateCmd.Flags().String("destination", "", "fully qualified destination table name (validated only)")
	rootCmd.AddCommand(validateCmd)
}
