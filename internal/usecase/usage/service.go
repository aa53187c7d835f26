package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/voxdex/internal/domain/usage"
	"github.com/kailas-cloud/voxdex/internal/domain/usage/budget"
)

// Service handles spend reporting.
type Service struct {
	br BudgetReader
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader) *Service {
	return &Service{br: br}
}

// GetReport builds a spend report for the given period.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	now := time.Now().UTC()

	var start, end time.Time
	var limit, used, remaining int64

	switch period {
	case domusage.PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
		if s.br != nil {
			limit = s.br.MonthlyLimit()
			used = s.br.MonthlyUsed()
			remaining = s.br.RemainingMonthly()
		}
	default:
		// day window, also covers unrecognized periods
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.Add(24 * time.Hour)
		if s.br != nil {
			limit = s.br.DailyLimit()
			used = s.br.DailyUsed()
			remaining = s.br.RemainingDaily()
		}
	}

	exhausted := limit > 0 && remaining <= 0

	b := budget.New(int(limit), int(remaining), exhausted, end.UnixMilli())
	return domusage.NewReport(period, start.UnixMilli(), end.UnixMilli(), used, b)
}
