package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Load raw search queries from a CSV export into the store",
	Long: `Loads a CSV export of raw search queries into the raw query log. The
header row names the columns; timestamp, request_id, session_id,
sequence_no and query are required, the geo and client columns are
optional. Timestamps must be RFC 3339.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "import"))

		batchSize, _ := cmd.Flags().GetInt("batch-size")

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "import: open %s", args[0])
		}
		defer f.Close()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "import: open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "import: migrate")
		}

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err != nil {
			return eris.Wrap(err, "import: read header")
		}
		cols := make(map[string]int, len(header))
		for i, name := range header {
			cols[strings.ToLower(strings.TrimSpace(name))] = i
		}
		for _, required := range []string{"timestamp", "request_id", "session_id", "sequence_no", "query"} {
			if _, ok := cols[required]; !ok {
				return eris.Errorf("import: missing required column %q", required)
			}
		}

		var (
			batch    []model.QueryRecord
			total    int64
			lineNo   = 1
			flushErr error
		)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := st.InsertRawQueries(ctx, batch)
			if err != nil {
				return err
			}
			total += n
			batch = batch[:0]
			return nil
		}

		for {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			lineNo++
			if err != nil {
				return eris.Wrapf(err, "import: line %d", lineNo)
			}

			rec, err := rowToRecord(row, cols)
			if err != nil {
				return eris.Wrapf(err, "import: line %d", lineNo)
			}
			batch = append(batch, rec)

			if len(batch) >= batchSize {
				if flushErr = flush(); flushErr != nil {
					return eris.Wrap(flushErr, "import: insert batch")
				}
			}
		}
		if err := flush(); err != nil {
			return eris.Wrap(err, "import: insert batch")
		}

		log.Info("import complete", zap.Int64("rows", total))
		fmt.Printf("Imported %d raw queries\n", total)
		return nil
	},
}

func rowToRecord(row []string, cols map[string]int) (model.QueryRecord, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	ts, err := time.Parse(time.RFC3339, field("timestamp"))
	if err != nil {
		return model.QueryRecord{}, eris.Wrap(err, "parse timestamp")
	}

	return model.QueryRecord{
		Timestamp:          ts,
		RequestID:          field("request_id"),
		SessionID:          field("session_id"),
		SequenceNo:         field("sequence_no"),
		Query:              field("query"),
		Country:            field("country"),
		Region:             field("region"),
		DMA:                field("dma"),
		FormFactor:         field("form_factor"),
		Browser:            field("browser"),
		OSFamily:           field("os_family"),
		PresentInAllowList: strings.EqualFold(field("present_in_allow_list"), "true"),
	}, nil
}

func init() {
	importCmd.Flags().Int("batch-size", 5000, "rows per insert batch")
	rootCmd.AddCommand(importCmd)
}
