package services

import (
	"context"
	"net/mail"
	"strings"

	"github.com/justsurfingit/jobtracker/internal/models"
	"gorm.io/gorm"
)

type MatcherService struct {
	DB *gorm.DB
}

func NewMatcherService(db *gorm.DB) *MatcherService {
	return &MatcherService{DB: db}
}

// FindJobFromEmail picks the active job an email is about. Jobs that already
// reached Offer or Rejected are never matched. When a company has several
// active jobs, one whose title appears in the subject wins; otherwise the
// most recent application does.
func (s *MatcherService) FindJobFromEmail(ctx context.Context, subject, rawSender string) (*models.Job, error) {
	// "Stripe Recruiting <jobs@stripe.com>" -> name="stripe recruiting", addr="jobs@stripe.com"
	senderName, senderAddr := "", ""
	if parsedAddr, err := mail.ParseAddress(rawSender); err == nil {
		senderName = strings.ToLower(parsedAddr.Name)
		senderAddr = strings.ToLower(parsedAddr.Address)
	} else {
		senderAddr = strings.ToLower(rawSender)
	}
	domain := ""
	if parts := strings.Split(senderAddr, "@"); len(parts) == 2 {
		domain = parts[1]
	}
	subjectLower := strings.ToLower(subject)

	var jobs []models.Job
	err := s.DB.WithContext(ctx).
		Where("status NOT IN ?", []models.Status{models.StatusOffer, models.StatusRejected}).
		Order("date_applied DESC").Order("id DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	var candidates []models.Job
	for _, job := range jobs {
		if companyMatches(strings.ToLower(strings.TrimSpace(job.Company)), subjectLower, senderName, domain) {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	for i := range candidates {
		if t := strings.ToLower(candidates[i].Title); t != "" && strings.Contains(subjectLower, t) {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}

func companyMatches(company, subject, senderName, domain string) bool {
	// Very short names ("X", "Go") match everything.
	if len(company) < 3 {
		return false
	}
	if strings.Contains(subject, company) {
		return true
	}
	if senderName != "" && strings.Contains(senderName, company) {
		return true
	}
	// Domains drop spaces: "Acme Labs" -> acmelabs.com
	return domain != "" && strings.Contains(domain, strings.ReplaceAll(company, " ", ""))
}
