package reporter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/models"
)

type fakeSource struct {
	summaries   []models.ProcessSummary
	err         error
	since, till time.Time
}

func (f *fakeSource) GetProcessSummaryBetween(ctx context.Context, since, until time.Time) ([]models.ProcessSummary, error) {
	f.since, f.till = since, until
	return append([]models.ProcessSummary(nil), f.summaries...), f.err
}

func newTestReporter(src *fakeSource, now time.Time) *Reporter {
	cfg := config.Default()
	cfg.Report.TimeZone = "UTC"
	r := New(cfg, src)
	r.now = func() time.Time { return now }
	return r
}

func TestGenerateReport(t *testing.T) {
	src := &fakeSource{summaries: []models.ProcessSummary{
		{Identity: "code", TotalMS: 5_400_000, SessionCount: 3},
		{Identity: "vlc", TotalMS: 1_800_000, SessionCount: 1, IsMedia: true},
	}}
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC) // Wednesday
	r := newTestReporter(src, now).WithDisplayNames(func(id string) string {
		if id == "code" {
			return "VS Code"
		}
		return ""
	})

	report, err := r.GenerateReport(context.Background(), "day")
	require.NoError(t, err)

	assert.Equal(t, int64(7200), report.TotalSeconds)
	assert.InDelta(t, 2.0, report.TotalHours, 0.0001)
	assert.InDelta(t, 75.0, report.Processes[0].Percentage, 0.0001)
	assert.InDelta(t, 90.0, report.Processes[0].TotalMinutes, 0.0001)
	assert.Equal(t, "VS Code", report.Processes[0].DisplayName)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), src.since)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), src.till)

	text := r.FormatReportText(report)
	assert.Contains(t, text, "VS Code")
	assert.Contains(t, text, "1:30:00")
	assert.Contains(t, text, "vlc *")

	js, err := r.FormatReportJSON(report)
	require.NoError(t, err)
	assert.True(t, strings.Contains(js, `"identity": "code"`))
}

func TestPeriods(t *testing.T) {
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC) // Sunday
	tests := []struct {
		period     string
		start, end time.Time
	}{
		{"day", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},
		{"week", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{"month", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			p, err := newTestReporter(&fakeSource{}, now).getPeriod(tt.period)
			require.NoError(t, err)
			assert.True(t, tt.start.Equal(p.Start), "start %v", p.Start)
			assert.True(t, tt.end.Equal(p.End), "end %v", p.End)
		})
	}

	_, err := newTestReporter(&fakeSource{}, now).getPeriod("decade")
	assert.Error(t, err)
}

func TestEmptyAndFailingReports(t *testing.T) {
	r := newTestReporter(&fakeSource{}, time.Now())
	report, err := r.GenerateReport(context.Background(), "week")
	require.NoError(t, err)
	assert.Contains(t, r.FormatReportText(report), "No activity recorded")

	r = newTestReporter(&fakeSource{err: errors.New("db locked")}, time.Now())
	_, err = r.GenerateReport(context.Background(), "week")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "日本語の...", truncate("日本語のプロセス名", 7))
}
