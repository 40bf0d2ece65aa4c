package views

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/justsurfingit/jobtracker/internal/models"
)

// All disables a filter dimension, as does an empty value.
const All = "All"

// Filter narrows the job list. Status, Year ("2024") and Month ("March")
// match exactly; Search matches title or company case-insensitively.
type Filter struct {
	Search string
	Status string
	Year   string
	Month  string

	// Hidden drops rows regardless of the other fields, e.g. jobs whose
	// delete is still in flight.
	Hidden map[int64]bool
}

func isAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, All)
}

func (f Filter) Match(j models.Job) bool {
	if f.Hidden[j.ID] {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(j.Title), q) && !strings.Contains(strings.ToLower(j.Company), q) {
			return false
		}
	}
	if !isAll(f.Status) && !strings.EqualFold(string(j.Status), strings.TrimSpace(f.Status)) {
		return false
	}
	if isAll(f.Year) && isAll(f.Month) {
		return true
	}

	applied, err := j.AppliedOn()
	if err != nil {
		return false
	}
	if !isAll(f.Year) && strconv.Itoa(applied.Year()) != strings.TrimSpace(f.Year) {
		return false
	}
	if !isAll(f.Month) && !strings.EqualFold(applied.Month().String(), strings.TrimSpace(f.Month)) {
		return false
	}
	return true
}

// Apply returns the matching jobs in their original order.
func (f Filter) Apply(jobs []models.Job) []models.Job {
	out := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		if f.Match(j) {
			out = append(out, j)
		}
	}
	return out
}

type MonthGroup struct {
	Month time.Month   `json:"month"`
	Jobs  []models.Job `json:"jobs"`
}

type YearGroup struct {
	Year   int          `json:"year"`
	Months []MonthGroup `json:"months"`
}

// Group buckets jobs by year then month, newest first. Within a month jobs
// are ordered by date applied, newest first, keeping input order for ties.
// Jobs without a parseable date are left out.
func Group(jobs []models.Job) []YearGroup {
	type dated struct {
		job models.Job
		at  time.Time
	}
	all := make([]dated, 0, len(jobs))
	for _, j := range jobs {
		at, err := j.AppliedOn()
		if err != nil {
			continue
		}
		all = append(all, dated{job: j, at: at})
	}
	slices.SortStableFunc(all, func(a, b dated) int {
		return b.at.Compare(a.at)
	})

	var groups []YearGroup
	for _, d := range all {
		y, m := d.at.Year(), d.at.Month()
		if len(groups) == 0 || groups[len(groups)-1].Year != y {
			groups = append(groups, YearGroup{Year: y})
		}
		yg := &groups[len(groups)-1]
		if len(yg.Months) == 0 || yg.Months[len(yg.Months)-1].Month != m {
			yg.Months = append(yg.Months, MonthGroup{Month: m})
		}
		mg := &yg.Months[len(yg.Months)-1]
		mg.Jobs = append(mg.Jobs, d.job)
	}
	return groups
}

// AvailableYears lists the distinct years of the jobs, newest first.
func AvailableYears(jobs []models.Job) []int {
	seen := make(map[int]bool)
	var years []int
	for _, j := range jobs {
		at, err := j.AppliedOn()
		if err != nil || seen[at.Year()] {
			continue
		}
		seen[at.Year()] = true
		years = append(years, at.Year())
	}
	slices.SortFunc(years, func(a, b int) int { return cmp.Compare(b, a) })
	return years
}
