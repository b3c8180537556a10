// Package report renders reconciliation state for export
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Data is everything a report can draw from
type Data struct {
	Scope       models.Scope
	GeneratedAt time.Time
	Matches     []models.ReconciliationMatch
	Candidates  []models.MatchCandidate
	Unmatched   []models.Item
}

// Reporter renders Data in one format
type Reporter interface {
	Format() string
	ContentType() string
	Render(w io.Writer, data *Data) error
}

// Registry resolves reporters by format name
type Registry struct {
	reporters map[string]Reporter
}

func NewRegistry(reporters ...Reporter) *Registry {
	r := &Registry{reporters: make(map[string]Reporter, len(reporters))}
	for _, reporter := range reporters {
		r.reporters[reporter.Format()] = reporter
	}
	return r
}

// Get returns the reporter for a format
func (r *Registry) Get(format string) (Reporter, error) {
	reporter, ok := r.reporters[format]
	if !ok {
		return nil, fmt.Errorf("unsupported report format %q (supported: %v)", format, r.Formats())
	}
	return reporter, nil
}

// Formats lists the registered formats in sorted order
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.reporters))
	for format := range r.reporters {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}
