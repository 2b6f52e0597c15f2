package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

// Stats aggregates a set of campaigns the way the dashboard summarises them.
type Stats struct {
	Total         int
	ByStatus      map[domain.Status]int
	Accepting     int
	GoalReached   int
	PaidOut       int
	Contributions int64
	TotalRaised   decimal.Decimal
	TotalGoal     decimal.Decimal
}

func (s *Service) Get(ctx context.Context, address domain.Address) (*domain.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, address)
	if err != nil {
		return nil, storeError(err)
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, filter store.Filter) ([]*domain.Campaign, error) {
	campaigns, err := s.store.ListCampaigns(ctx, filter)
	if err != nil {
		return nil, storeError(err)
	}
	return campaigns, nil
}

// Contributions returns the campaign's contribution log in admission order.
func (s *Service) Contributions(ctx context.Context, address domain.Address) ([]domain.Contribution, error) {
	log, err := s.store.ListContributions(ctx, address)
	if err != nil {
		return nil, storeError(err)
	}
	return log, nil
}

// Stats ignores the filter's pagination.
func (s *Service) Stats(ctx context.Context, filter store.Filter) (Stats, error) {
	filter.Limit, filter.Offset = 0, 0
	campaigns, err := s.List(ctx, filter)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus:    make(map[domain.Status]int),
		TotalRaised: decimal.Zero,
		TotalGoal:   decimal.Zero,
	}
	for _, c := range campaigns {
		stats.Total++
		stats.ByStatus[c.Status]++
		if c.Status.AcceptsContributions() && !c.PaidOut {
			stats.Accepting++
		}
		if c.Raised.GreaterThanOrEqual(c.Goal) {
			stats.GoalReached++
		}
		if c.PaidOut {
			stats.PaidOut++
		}
		stats.Contributions += c.ContributionCount
		stats.TotalRaised = stats.TotalRaised.Add(c.Raised)
		stats.TotalGoal = stats.TotalGoal.Add(c.Goal)
	}
	return stats, nil
}

// Period selects the window and bucket width of a revenue series.
type Period string

const (
	// PeriodYear is twelve monthly buckets ending with the current month.
	PeriodYear Period = "year"
	// PeriodMonth is thirty daily buckets ending today.
	PeriodMonth Period = "month"
	// PeriodWeek is seven daily buckets ending today.
	PeriodWeek Period = "week"
)

func ParsePeriod(value string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return PeriodYear, nil
	case PeriodYear, PeriodMonth, PeriodWeek:
		return p, nil
	default:
		return "", apperr.Newf(apperr.CodeValidation, "unknown period %q", value)
	}
}

// RevenuePoint is the accounting value contributed within one bucket.
// Donations holds contributions to donation campaigns, Revenue the rest.
type RevenuePoint struct {
	Start     time.Time
	Label     string
	Revenue   decimal.Decimal
	Donations decimal.Decimal
}

// window returns the bucket starts in UTC, oldest first, and the end of
// the last bucket.
func (p Period) window(now time.Time) ([]time.Time, time.Time) {
	now = now.UTC()
	if p == PeriodYear {
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		starts := make([]time.Time, 12)
		for i := range starts {
			starts[i] = month.AddDate(0, i-11, 0)
		}
		return starts, month.AddDate(0, 1, 0)
	}
	days := 7
	if p == PeriodMonth {
		days = 30
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	starts := make([]time.Time, days)
	for i := range starts {
		starts[i] = today.AddDate(0, 0, i-days+1)
	}
	return starts, today.AddDate(0, 0, 1)
}

func (p Period) label(start time.Time) string {
	if p == PeriodYear {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}

// Revenue buckets the contribution logs of the filtered campaigns by
// admission time. Empty buckets are kept so the series is continuous.
func (s *Service) Revenue(ctx context.Context, filter store.Filter, period Period) ([]RevenuePoint, error) {
	filter.Limit, filter.Offset = 0, 0
	campaigns, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	starts, end := period.window(s.now())
	series := make([]RevenuePoint, len(starts))
	for i, start := range starts {
		series[i] = RevenuePoint{Start: start, Label: period.label(start), Revenue: decimal.Zero, Donations: decimal.Zero}
	}

	for _, c := range campaigns {
		if c.ContributionCount == 0 {
			continue
		}
		log, err := s.Contributions(ctx, c.Address)
		if err != nil {
			return nil, err
		}
		for _, entry := range log {
			at := entry.Timestamp.UTC()
			if at.Before(starts[0]) || !at.Before(end) {
				continue
			}
			i := sort.Search(len(starts), func(i int) bool { return starts[i].After(at) }) - 1
			if c.Donation {
				series[i].Donations = series[i].Donations.Add(entry.AccountingAmount)
			} else {
				series[i].Revenue = series[i].Revenue.Add(entry.AccountingAmount)
			}
		}
	}
	return series, nil
}
