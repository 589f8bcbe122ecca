package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suggest-data/sanitizer-cli/internal/collapse"
	"github.com/suggest-data/sanitizer-cli/internal/model"
	"github.com/suggest-data/sanitizer-cli/internal/reference"
)

var collapseCmd = &cobra.Command{
	Use:   "collapse",
	Short: "Collapse intermediate queries into their final form",
	Long: `Detects incrementally-typed (intermediate) queries in one day's logs and
groups each prefix chain under its final, fully-typed query. Queries are
grouped by session before detection, so chains never span sessions.

Reports per-day totals: how many queries were intermediate, how many
distinct final queries remain, and what share of final queries are plain
dictionary words.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "collapse"))

		dateStr, _ := cmd.Flags().GetString("date")
		day, err := parseDay(dateStr)
		if err != nil {
			return eris.Wrap(err, "collapse")
		}

		detectCfg, err := loadCollapseConfig(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "collapse: open store")
		}
		defer st.Close()

		var wordlist reference.Set
		if cfg.Reference.WordlistPath != "" {
			wordlist, err = reference.LoadWordlistFile(cfg.Reference.WordlistPath)
			if err != nil {
				log.Warn("collapse: wordlist unavailable, skipping dictionary share", zap.Error(err))
			}
		}

		// Pull the whole day and bucket by session.
		sessions := make(map[string][]model.Query)
		offset := 0
		for {
			page, err := st.QueryPage(ctx, day, offset, cfg.Job.PageSize)
			if err != nil {
				return eris.Wrap(err, "collapse: read queries")
			}
			if len(page) == 0 {
				break
			}
			offset += len(page)
			for _, r := range page {
				sessions[r.SessionID] = append(sessions[r.SessionID], model.Query{
					Text:      r.Query,
					Timestamp: r.Timestamp,
					SessionID: r.SessionID,
				})
			}
		}

		var total collapse.Summary
		var dictionaryFulls, fulls int
		for _, queries := range sessions {
			records := collapse.Detect(queries, detectCfg.Window, detectCfg.MinLengthDiff, detectCfg.MaxLengthDiff)
			s := collapse.Summarize(records)
			total.Total += s.Total
			total.Prefixes += s.Prefixes
			total.FullQuery += s.FullQuery
			total.ChainRoots += s.ChainRoots

			if wordlist == nil {
				continue
			}
			for i, r := range records {
				if r.IsPrefix || r.FullQueryIdx != i {
					continue
				}
				fulls++
				if wordlist.Contains(strings.ToLower(strings.TrimSpace(queries[i].Text))) {
					dictionaryFulls++
				}
			}
		}

		log.Info("collapse complete",
			zap.Int("sessions", len(sessions)),
			zap.Int("queries", total.Total),
			zap.Int("intermediate", total.Prefixes),
			zap.Int("full_queries", total.FullQuery),
		)

		fmt.Printf("Sessions:             %d\n", len(sessions))
		fmt.Printf("Queries:              %d\n", total.Total)
		fmt.Printf("Intermediate queries: %d\n", total.Prefixes)
		fmt.Printf("Distinct full queries: %d\n", total.FullQuery)
		fmt.Printf("Chains:               %d\n", total.ChainRoots)
		if wordlist != nil && fulls > 0 {
			fmt.Printf("Dictionary-word share of full queries: %.1f%%\n",
				100*float64(dictionaryFulls)/float64(fulls))
		}
		return nil
	},
}

// loadCollapseConfig resolves detection tuning: YAML file if configured,
// then flag overrides on top.
func loadCollapseConfig(cmd *cobra.Command) (collapse.Config, error) {
	detectCfg := collapse.DefaultConfig()
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = cfg.Collapse.ConfigPath
	}
	if path != "" {
		loaded, err := collapse.LoadConfig(path)
		if err != nil {
			return detectCfg, eris.Wrap(err, "collapse: load config")
		}
		detectCfg = loaded
	}

	if cmd.Flags().Changed("window") {
		windowStr, _ := cmd.Flags().GetString("window")
		w, err := time.ParseDuration(windowStr)
		if err != nil {
			return detectCfg, eris.Wrapf(err, "collapse: parse window %q", windowStr)
		}
		detectCfg.Window = w
	}
	if cmd.Flags().Changed("min-length-diff") {
		detectCfg.MinLengthDiff, _ = cmd.Flags().GetInt("min-length-diff")
	}
	if cmd.Flags().Changed("max-length-diff") {
		detectCfg.MaxLengthDiff, _ = cmd.Flags().GetInt("max-length-diff")
	}
	return detectCfg, nil
}

func init() {
	collapseCmd.Flags().String("date", "", "day to analyze as YYYY-MM-DD (default: yesterday)")
	collapseCmd.Flags().String("config", "", "path to collapse tuning YAML")
	collapseCmd.Flags().String("window", "", "max lag between a prefix and its superstring (e.g. 1s)")
	collapseCmd.Flags().Int("min-length-diff", 1, "min superstring length growth (inclusive)")
	collapseCmd.Flags().Int("max-length-diff", 3, "max superstring length growth (inclusive)")
	rootCmd.AddCommand(collapseCmd)
}
