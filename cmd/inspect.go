package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-to-telegram/collect"
	"github.com/dhcgn/mail-to-telegram/config"
	"github.com/dhcgn/mail-to-telegram/filter"
	"github.com/dhcgn/mail-to-telegram/forward"
	"github.com/dhcgn/mail-to-telegram/mbox"
	"github.com/dhcgn/mail-to-telegram/mimetext"
	"github.com/dhcgn/mail-to-telegram/model"
)

var headersToTrack = []string{"Delivered-To", "To", "From", "Subject"}

const (
	outcomeNotification = "notification"
	outcomeNoTextBody   = "no text/plain body"
	outcomeNoBoundary   = "no multipart boundary"
)

// archiveReport is what inspect learns about an archive.
type archiveReport struct {
	Forwardable int
	Skipped     int
	Outcomes    map[string]int
	Headers     map[string]map[string]int
}

func newArchiveReport() *archiveReport {
	report := &archiveReport{
		Outcomes: make(map[string]int),
		Headers:  make(map[string]map[string]int),
	}
	for _, h := range headersToTrack {
		report.Headers[h] = make(map[string]int)
	}
	return report
}

func NewInspectCommand() *cobra.Command {
	var (
		reportDir string
		topN      int
	)

	cmd := &cobra.Command{
		Use:   "inspect [mbox file]",
		Short: "Analyse an mbox archive and show what a replay would forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			f, err := filter.New(filter.Options{
				IncludeHeader: cfg.Filter.IncludeHeader,
				IncludeBody:   cfg.Filter.IncludeBody,
				ExcludeHeader: cfg.Filter.ExcludeHeader,
				ExcludeBody:   cfg.Filter.ExcludeBody,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Analyzing mbox file:", args[0])

			report, err := inspectArchive(cmd, mbox.Options{Path: args[0]}, f)
			if err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}

			printReport(out, report, f.Hits(), topN)

			if reportDir == "" {
				return nil
			}
			if err := saveCSVReports(report.Headers, headersToTrack, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", "", "Output directory for CSV reports (none when empty)")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	config.RegisterInspectFlags(cmd)
	return cmd
}

func inspectArchive(cmd *cobra.Command, opts mbox.Options, f *filter.Filter) (*archiveReport, error) {
	report := newArchiveReport()
	err := mbox.Each(cmd.Context(), opts, func(_ int, raw []byte) error {
		if !f.AllowsMessage(raw) {
			report.Skipped++
			return nil
		}
		report.Forwardable++

		header := model.ParseHeader(raw)
		for _, name := range headersToTrack {
			if value := header.Get(name); value != "" {
				report.Headers[name][value]++
			}
		}

		n, _, err := forward.Extract(cmd.Context(), model.InboundEmail{Header: header, Source: collect.FromBytes(raw)})
		switch {
		case errors.Is(err, mimetext.ErrBoundaryNotFound):
			report.Outcomes[outcomeNoBoundary]++
		case err != nil:
			return err
		case strings.TrimSpace(n.Body) == "":
			report.Outcomes[outcomeNoTextBody]++
		default:
			report.Outcomes[outcomeNotification]++
		}
		return nil
	})
	return report, err
}

func printReport(out io.Writer, report *archiveReport, hits []filter.Hit, topN int) {
	total := report.Forwardable + report.Skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(report.Skipped) / float64(total) * 100
	}
	fmt.Fprintf(out, "Processed %d messages (skipped %d by filters, %.2f%%)\n\n", total, report.Skipped, filterPercent)

	if len(hits) > 0 {
		fmt.Fprintln(out, "Filters:")
		printFilterHits(out, hits)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Outcome:")
	printTop(out, report.Outcomes, 0)
	fmt.Fprintln(out)

	for _, header := range headersToTrack {
		fmt.Fprintf(out, "Top %d %s:\n", topN, header)
		printTop(out, report.Headers[header], topN)
		fmt.Fprintln(out)
	}
}

type countPair struct {
	Key   string
	Value int
}

func sortedCounts(counts map[string]int) []countPair {
	pairs := make([]countPair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, countPair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	return pairs
}

// printTop prints the n most frequent values, all of them when n <= 0.
func printTop(out io.Writer, counts map[string]int, n int) {
	for i, p := range sortedCounts(counts) {
		if n > 0 && i >= n {
			break
		}
		fmt.Fprintf(out, "  %6d  %s\n", p.Value, p.Key)
	}
}

func printFilterHits(out io.Writer, hits []filter.Hit) {
	sorted := append([]filter.Hit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Hits != sorted[j].Hits {
			return sorted[i].Hits > sorted[j].Hits
		}
		return sorted[i].Pattern < sorted[j].Pattern
	})

	for _, h := range sorted {
		mark := "✗"
		if h.Hits > 0 {
			mark = "✓"
		}
		fmt.Fprintf(out, "  %s [%s] %s: %d hits\n", mark, h.List, h.Pattern, h.Hits)
	}
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSV(filePath, sortedCounts(counter[header]), limit); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, pairs []countPair, limit int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for i := 0; i < limit && i < len(pairs); i++ {
		if err := writer.Write([]string{pairs[i].Key, strconv.Itoa(pairs[i].Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
