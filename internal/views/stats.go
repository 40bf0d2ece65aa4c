// Package views derives read-only projections from a job snapshot: the
// dashboard statistics and the filtered, grouped list. Nothing here writes to
// the cache.
package views

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/justsurfingit/jobtracker/internal/models"
)

const (
	StaleAfterDays = 14
	MaxStale       = 5
	MaxTopTags     = 8
	seriesDays     = 7
)

type DayCount struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
	Count int       `json:"count"`
}

type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type FunnelStage struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type StaleJob struct {
	Job       models.Job `json:"job"`
	DaysSince int        `json:"days_since"`
}

type Stats struct {
	Total          int                   `json:"total"`
	Interviews     int                   `json:"interviews"`
	Offers         int                   `json:"offers"`
	Rejected       int                   `json:"rejected"`
	ConversionRate float64               `json:"conversion_rate"`
	ByStatus       map[models.Status]int `json:"by_status"`
	Funnel         []FunnelStage         `json:"funnel"`
	Last7Days      []DayCount            `json:"last_7_days"`
	ThisWeek       int                   `json:"this_week"`
	LastWeek       int                   `json:"last_week"`
	WeekGrowth     int                   `json:"week_growth"`
	Stale          []StaleJob            `json:"stale"`
	TopTags        []TagCount            `json:"top_tags"`
}

// ComputeStats aggregates jobs as of now. Jobs whose date does not parse
// still count towards the status totals and tags but not towards any date
// based figure.
func ComputeStats(jobs []models.Job, now time.Time) Stats {
	st := Stats{
		Total:    len(jobs),
		ByStatus: make(map[models.Status]int),
		Stale:    []StaleJob{},
	}
	today := day(now)

	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	lastWeekStart := weekStart.AddDate(0, 0, -7)

	st.Last7Days = make([]DayCount, seriesDays)
	for i := range seriesDays {
		d := today.AddDate(0, 0, i-(seriesDays-1))
		st.Last7Days[i] = DayCount{Date: d, Label: d.Format("Mon")}
	}

	tagCounts := make(map[string]int)
	var tagOrder []string

	for _, j := range jobs {
		st.ByStatus[j.Status]++
		switch j.Status {
		case models.StatusInterview, models.StatusTechnicalTest:
			st.Interviews++
		case models.StatusOffer:
			st.Offers++
		case models.StatusRejected:
			st.Rejected++
		}

		for _, tag := range j.TechStack {
			if _, ok := tagCounts[tag]; !ok {
				tagOrder = append(tagOrder, tag)
			}
			tagCounts[tag]++
		}

		applied, err := j.AppliedOn()
		if err != nil {
			continue
		}
		applied = day(applied)

		age := daysBetween(applied, today)
		if age >= 0 && age < seriesDays {
			st.Last7Days[seriesDays-1-age].Count++
		}
		switch {
		case !applied.Before(weekStart):
			st.ThisWeek++
		case !applied.Before(lastWeekStart):
			st.LastWeek++
		}
		if (j.Status == models.StatusSaved || j.Status == models.StatusApplied) && age > StaleAfterDays {
			st.Stale = append(st.Stale, StaleJob{Job: j.Clone(), DaysSince: age})
		}
	}

	if st.Total > 0 {
		st.ConversionRate = math.Round(float64(st.Interviews)/float64(st.Total)*1000) / 10
	}
	st.WeekGrowth = st.ThisWeek - st.LastWeek
	st.Funnel = []FunnelStage{
		{Name: string(models.StatusApplied), Value: st.Total},
		{Name: string(models.StatusInterview), Value: st.Interviews},
		{Name: string(models.StatusOffer), Value: st.Offers},
	}

	slices.SortStableFunc(st.Stale, func(a, b StaleJob) int {
		return cmp.Compare(b.DaysSince, a.DaysSince)
	})
	if len(st.Stale) > MaxStale {
		st.Stale = st.Stale[:MaxStale]
	}

	st.TopTags = make([]TagCount, 0, len(tagOrder))
	for _, tag := range tagOrder {
		st.TopTags = append(st.TopTags, TagCount{Name: tag, Count: tagCounts[tag]})
	}
	slices.SortStableFunc(st.TopTags, func(a, b TagCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if len(st.TopTags) > MaxTopTags {
		st.TopTags = st.TopTags[:MaxTopTags]
	}
	return st
}

// day truncates t to local midnight.
func day(t time.Time) time.Time {
	t = t.In(time.Local)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
