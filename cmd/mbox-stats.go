package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/filter"
	"github.com/dhcgn/mbox-reply-parser/mbox"
	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/reply"
	"github.com/dhcgn/mbox-reply-parser/runner"
	"github.com/dhcgn/mbox-reply-parser/stats"
)

var (
	reportDir     string
	topN          int
	includeHeader []string
	includeBody   []string
	excludeHeader []string
	excludeBody   []string
)

// Report categories, one CSV file each.
const (
	reportFrom        = "From"
	reportSubject     = "Subject"
	reportSignature   = "Signature"
	reportQuoteHeader = "Quote-Header"
)

var reportCategories = []string{reportFrom, reportSubject, reportSignature, reportQuoteHeader}

// replyStats accumulates per-mailbox reply statistics.
type replyStats struct {
	Messages      int
	NoText        int
	Skipped       int
	WithQuote     int
	WithSignature int
	Fragments     int
	counter       map[string]map[string]int
}

func newReplyStats() *replyStats {
	s := &replyStats{counter: make(map[string]map[string]int)}
	for _, c := range reportCategories {
		s.counter[c] = make(map[string]int)
	}
	return s
}

// add records one message. It returns false when the filter rejects it.
func (s *replyStats) add(msg model.Message, parser *reply.Parser, f *filter.Filter) (bool, error) {
	body, err := message.BodyText(msg.Raw)
	switch {
	case errors.Is(err, message.ErrNoTextBody):
		s.NoText++
	case err != nil:
		return false, err
	}

	email := parser.Parse(body)
	header, _ := filter.SplitRawMessage(msg.Raw)
	if !f.Allows(header, email.VisibleText()) {
		s.Skipped++
		return false, nil
	}

	s.Messages++
	s.Fragments += len(email.Fragments())
	if email.HasQuote() {
		s.WithQuote++
	}
	if email.HasSignature() {
		s.WithSignature++
	}
	if msg.From != "" {
		s.counter[reportFrom][msg.From]++
	}
	if msg.Subject != "" {
		s.counter[reportSubject][msg.Subject]++
	}

	for _, frag := range email.Fragments() {
		line := firstLine(frag.Content())
		if line == "" {
			continue
		}
		switch {
		case frag.IsSignature():
			s.counter[reportSignature][line]++
		case frag.IsQuoted() && !strings.HasPrefix(line, ">"):
			s.counter[reportQuoteHeader][line]++
		}
	}
	return true, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func (s *replyStats) print(w io.Writer, f *filter.Filter) {
	total := s.Messages + s.Skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(s.Skipped) / float64(total) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%)...\n", s.Messages, s.Skipped, filterPercent)
	fmt.Fprintf(w, "  without text body: %d\n", s.NoText)
	fmt.Fprintf(w, "  with quoted text:  %d\n", s.WithQuote)
	fmt.Fprintf(w, "  with signature:    %d\n", s.WithSignature)
	fmt.Fprintf(w, "  fragments:         %d\n\n", s.Fragments)

	if f.Active() {
		printFilterStats(w, f.GetStats())
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, c := range reportCategories {
		fmt.Fprintf(w, "Top %d %s:\n", topN, c)
		stats.PrettyPrintTop(w, s.counter[c], topN)
		fmt.Fprintln(w)
	}
}

var mboxStatsCmd = &cobra.Command{
	Use:   "mbox-stats [mbox file]",
	Short: "Analyse the replies in an mbox file and show statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mboxPath := args[0]
		w := cmd.OutOrStdout()

		fmt.Fprintln(w, "Analyzing mbox file:", mboxPath)

		f, err := filter.New(filter.Options{
			IncludeHeader: includeHeader,
			IncludeBody:   includeBody,
			ExcludeHeader: excludeHeader,
			ExcludeBody:   excludeBody,
		})
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}

		patternsFile, err := cmd.Flags().GetString("patterns")
		if err != nil {
			return err
		}
		lib, err := runner.LoadLibrary(patternsFile)
		if err != nil {
			return err
		}
		parser := reply.NewParser(lib)

		s := newReplyStats()
		err = mbox.Read(mboxPath, func(msg model.Message) error {
			counted, err := s.add(msg, parser, f)
			if err != nil {
				slog.Warn("skipping unreadable message", "messageID", msg.ID, "err", err)
				return nil
			}
			if counted && s.Messages%250 == 0 {
				// Clear screen and move the cursor to the top-left.
				fmt.Fprint(w, "\033[H\033[2J")
				s.print(w, f)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("error reading mbox file: %w", err)
		}

		s.print(w, f)

		if err := saveCSVReports(s.counter, reportCategories, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}
		if err := saveSummaryCSV(s, reportDir); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Fprintf(w, "\nReports saved to directory: %s\n", reportDir)
		return nil
	},
}

func init() {
	mboxStatsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	mboxStatsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	mboxStatsCmd.Flags().StringArrayVar(&includeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	mboxStatsCmd.Flags().StringArrayVar(&includeBody, "include-body", nil, "Regex allow-list applied to the visible reply text (mutually exclusive with exclude flags)")
	mboxStatsCmd.Flags().StringArrayVar(&excludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	mboxStatsCmd.Flags().StringArrayVar(&excludeBody, "exclude-body", nil, "Regex block-list applied to the visible reply text (mutually exclusive with include flags)")
	config.AddPatternsFlag(mboxStatsCmd)
	rootCmd.AddCommand(mboxStatsCmd)
}

func saveCSVReports(counter map[string]map[string]int, categories []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, category := range categories {
		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(category))
		rows := [][]string{{"Value", "Count"}}
		for _, p := range stats.Top(counter[category], limit) {
			rows = append(rows, []string{p.Key, strconv.Itoa(p.Value)})
		}
		if err := writeCSV(filepath.Join(dir, filename), rows); err != nil {
			return err
		}
	}

	return nil
}

func saveSummaryCSV(s *replyStats, dir string) error {
	rows := [][]string{
		{"Metric", "Count"},
		{"messages", strconv.Itoa(s.Messages)},
		{"skipped_by_filter", strconv.Itoa(s.Skipped)},
		{"without_text_body", strconv.Itoa(s.NoText)},
		{"with_quote", strconv.Itoa(s.WithQuote)},
		{"with_signature", strconv.Itoa(s.WithSignature)},
		{"fragments", strconv.Itoa(s.Fragments)},
	}
	return writeCSV(filepath.Join(dir, "report_summary.csv"), rows)
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		file.Close()
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

func printFilterStats(w io.Writer, s filter.Stats) {
	sections := []struct {
		title    string
		patterns []string
		hits     map[string]int
	}{
		{"Include Header Filters", s.IncludeHeaderPatterns, s.IncludeHeaderHits},
		{"Include Body Filters", s.IncludeBodyPatterns, s.IncludeBodyHits},
		{"Exclude Header Filters", s.ExcludeHeaderPatterns, s.ExcludeHeaderHits},
		{"Exclude Body Filters", s.ExcludeBodyPatterns, s.ExcludeBodyHits},
	}
	for _, sec := range sections {
		if len(sec.patterns) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:\n", sec.title)
		printFilterHits(w, sec.patterns, sec.hits)
		fmt.Fprintln(w)
	}
}

func printFilterHits(w io.Writer, patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}

// logFilterStats logs the hit count of every configured filter pattern.
func logFilterStats(logger *slog.Logger, s filter.Stats) {
	log := func(kind string, patterns []string, hits map[string]int) {
		for _, p := range patterns {
			logger.Info("filter pattern", "kind", kind, "pattern", p, "hits", hits[p])
		}
	}
	log("include-header", s.IncludeHeaderPatterns, s.IncludeHeaderHits)
	log("include-body", s.IncludeBodyPatterns, s.IncludeBodyHits)
	log("exclude-header", s.ExcludeHeaderPatterns, s.ExcludeHeaderHits)
	log("exclude-body", s.ExcludeBodyPatterns, s.ExcludeBodyHits)
}
