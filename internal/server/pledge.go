package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pledgedomain "github.com/pledgeflow/reconciler/internal/pledge/domain"
)

type pledgeFormWebhookRequest struct {
	DonorName        string   `json:"donor_name"`
	DonorEmail       string   `json:"donor_email"`
	Country          string   `json:"country"`
	Chapter          string   `json:"chapter"`
	Affiliation      string   `json:"affiliation"`
	ZakatFlag        bool     `json:"zakat_flag"`
	Duration         string   `json:"duration"`
	PledgeType       string   `json:"pledge_type"`
	MonthlyAmount    int64    `json:"monthly_amount"`
	MonthlyDuration  int      `json:"monthly_duration"`
	LinkedStudentIDs []string `json:"linked_student_ids"`
}

// IngestPledgeForm handles the inbound pledge-form webhook.
func (s *Server) IngestPledgeForm(c *gin.Context) {
	if s.pledgeSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req pledgeFormWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event := pledgedomain.FormEvent{
		DonorName:        req.DonorName,
		DonorEmail:       req.DonorEmail,
		Country:          req.Country,
		Chapter:          req.Chapter,
		Affiliation:      req.Affiliation,
		ZakatFlag:        req.ZakatFlag,
		Duration:         req.Duration,
		PledgeType:       req.PledgeType,
		MonthlyAmount:    req.MonthlyAmount,
		MonthlyDuration:  req.MonthlyDuration,
		LinkedStudentIDs: req.LinkedStudentIDs,
		SubmittedAt:      s.clock.Now(),
	}

	resp, err := s.pledgeSvc.IngestForm(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pledge_ref":       resp.PledgeRef,
		"subscription_ref": resp.SubscriptionRef,
	})
}

func isPledgeValidationError(err error) bool {
	switch err {
	case pledgedomain.ErrInvalidFormEvent:
		return true
	default:
		return false
	}
}
