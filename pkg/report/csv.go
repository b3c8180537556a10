package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	RecordMatch     = "match"
	RecordCandidate = "candidate"
	RecordUnmatched = "unmatched_item"
)

var csvHeader = []string{
	"record_type", "id", "items_1", "items_2", "side", "method", "tier", "score",
	"amount", "currency", "date", "description", "timestamp",
}

// CSVReporter writes one row per match, pending candidate and unmatched item
type CSVReporter struct{}

func NewCSVReporter() *CSVReporter {
	return &CSVReporter{}
}

func (r *CSVReporter) Format() string {
	return "csv"
}

func (r *CSVReporter) ContentType() string {
	return "text/csv"
}

func (r *CSVReporter) Render(w io.Writer, data *Data) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, m := range data.Matches {
		score := ""
		if m.Confidence != nil {
			score = formatScore(*m.Confidence)
		}
		row := []string{
			RecordMatch, m.ID, joinIDs(m.Items1), joinIDs(m.Items2), "", string(m.Method), "", score,
			"", "", "", deref(m.Notes), m.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	for _, c := range data.Candidates {
		row := []string{
			RecordCandidate, c.ID, joinIDs(c.Group1), joinIDs(c.Group2), "", "", string(c.Tier), formatScore(c.OverallScore),
			"", "", "", "", c.ComputedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	for _, item := range data.Unmatched {
		row := []string{
			RecordUnmatched, item.ID, "", "", strconv.Itoa(int(item.Source)), "", "", "",
			item.Amount.String(), item.Currency, item.Date.Format(time.DateOnly), deref(item.Description), "",
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ";")
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
