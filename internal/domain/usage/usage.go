// Package usage defines provider token spend reports for the operations
// surface. Spend is tracked by the embedding budget; reports expose it per
// aggregation period together with the budget state.
package usage

import (
	"github.com/kailas-cloud/voxdex/internal/domain/usage/budget"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// Report is a provider token spend report for a time period.
type Report struct {
	period      Period
	periodStart int64
	periodEnd   int64
	tokensUsed  int64
	budget      budget.Budget
}

// NewReport creates a spend report.
func NewReport(period Period, start, end, tokensUsed int64, b budget.Budget) Report {
	return Report{
		period:      period,
		periodStart: start,
		periodEnd:   end,
		tokensUsed:  tokensUsed,
		budget:      b,
	}
}

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// PeriodStart returns the period start timestamp (unix millis).
func (r *Report) PeriodStart() int64 { return r.periodStart }

// PeriodEnd returns the period end timestamp (unix millis).
func (r *Report) PeriodEnd() int64 { return r.periodEnd }

// TokensUsed returns the tokens consumed within the period.
func (r *Report) TokensUsed() int64 { return r.tokensUsed }

// Budget returns the budget state.
func (r *Report) Budget() budget.Budget { return r.budget }
