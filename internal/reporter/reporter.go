package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/models"
	"github.com/tokikanri/tokikanri/pkg/utils"
)

// SummarySource aggregates flush history
type SummarySource interface {
	GetProcessSummaryBetween(ctx context.Context, since, until time.Time) ([]models.ProcessSummary, error)
}

// Reporter handles report generation
type Reporter struct {
	config *config.Config
	repo   SummarySource
	names  func(identity string) string
	now    func() time.Time
}

// New creates a new reporter
func New(cfg *config.Config, repo SummarySource) *Reporter {
	return &Reporter{
		config: cfg,
		repo:   repo,
		now:    time.Now,
	}
}

// WithDisplayNames makes reports show display names looked up with fn
func (r *Reporter) WithDisplayNames(fn func(identity string) string) *Reporter {
	r.names = fn
	return r
}

// GenerateReport generates a report for the specified period
func (r *Reporter) GenerateReport(ctx context.Context, periodType string) (*models.Report, error) {
	period, err := r.getPeriod(periodType)
	if err != nil {
		return nil, err
	}

	// SQL does the SUM, the rest is derived here
	summaries, err := r.repo.GetProcessSummaryBetween(ctx, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to get process summary: %w", err)
	}

	var totalMS int64
	for i := range summaries {
		s := &summaries[i]
		s.TotalSeconds = s.TotalMS / 1000
		s.TotalMinutes = float64(s.TotalMS) / 60000.0
		s.TotalHours = float64(s.TotalMS) / 3600000.0
		if r.names != nil {
			s.DisplayName = r.names(s.Identity)
		}
		totalMS += s.TotalMS
	}

	if totalMS > 0 {
		for i := range summaries {
			summaries[i].Percentage = (float64(summaries[i].TotalMS) / float64(totalMS)) * 100.0
		}
	}

	report := &models.Report{
		Period:       *period,
		Processes:    summaries,
		TotalSeconds: totalMS / 1000,
		TotalMinutes: float64(totalMS) / 60000.0,
		TotalHours:   float64(totalMS) / 3600000.0,
		GeneratedAt:  r.now(),
	}

	return report, nil
}

// getPeriod calculates the time range for the report in the configured zone
func (r *Reporter) getPeriod(periodType string) (*models.ReportPeriod, error) {
	now := r.now().In(r.config.Location())
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 0, 1)

	case "yesterday":
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		start = end.AddDate(0, 0, -1)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, yesterday, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func (r *Reporter) FormatReportText(report *models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Focus Report - %s\n", report.Period.Type)
	fmt.Fprintf(&b, "Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Total Time: %s (%s)\n\n",
		utils.FormatClock(time.Duration(report.TotalSeconds)*time.Second),
		utils.FormatRoundedUnit(report.TotalSeconds))

	if len(report.Processes) == 0 {
		b.WriteString("No activity recorded for this period.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%-30s %10s %9s %10s\n", "Process", "Time", "Sessions", "Percent")
	b.WriteString(strings.Repeat("-", 62) + "\n")

	for _, p := range report.Processes {
		name := p.Identity
		if p.DisplayName != "" {
			name = p.DisplayName
		}
		if p.IsMedia {
			name += " *"
		}
		fmt.Fprintf(&b, "%-30s %10s %9d %9.1f%%\n",
			truncate(name, 30),
			utils.FormatClock(time.Duration(p.TotalMS)*time.Millisecond),
			p.SessionCount,
			p.Percentage)
	}

	return b.String()
}

// FormatReportJSON formats the report as JSON
func (r *Reporter) FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
