package dtos

import (
	"strings"

	"github.com/justsurfingit/jobtracker/internal/models"
)

// ParseRequest is the JSON form of POST /api/jobs/parse. Images are sent as
// multipart instead.
type ParseRequest struct {
	Text string `json:"text"`
}

// ParsedJob holds the fields the AI parser could extract. Every field except
// title and company may be empty.
type ParsedJob struct {
	Title           string   `json:"title"`
	Company         string   `json:"company"`
	WorkModel       string   `json:"work_model,omitempty"`
	SalaryRange     string   `json:"salary_range,omitempty"`
	SalaryFrequency string   `json:"salary_frequency,omitempty"`
	TechStack       []string `json:"tech_stack,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// Normalize maps free-form model output onto the form's options. Unknown
// work models and frequencies are dropped rather than guessed.
func (p *ParsedJob) Normalize() {
	p.Title = strings.TrimSpace(p.Title)
	p.Company = strings.TrimSpace(p.Company)
	p.WorkModel = NormalizeWorkModel(p.WorkModel)
	if f, ok := models.ParseSalaryFrequency(p.SalaryFrequency); ok {
		p.SalaryFrequency = string(f)
	} else {
		p.SalaryFrequency = ""
	}

	seen := make(map[string]bool, len(p.TechStack))
	tags := p.TechStack[:0]
	for _, t := range p.TechStack {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	p.TechStack = tags
}

// NormalizeWorkModel returns Remote, Hybrid, On-site or "".
func NormalizeWorkModel(s string) string {
	l := strings.ToLower(strings.TrimSpace(s))
	switch {
	case l == "":
		return ""
	case strings.Contains(l, "remote"), strings.Contains(l, "wfh"):
		return models.WorkModelRemote
	case strings.Contains(l, "hybrid"):
		return models.WorkModelHybrid
	case strings.Contains(l, "on-site"), strings.Contains(l, "onsite"),
		strings.Contains(l, "on site"), strings.Contains(l, "office"), strings.Contains(l, "in-person"):
		return models.WorkModelOnSite
	}
	return ""
}
