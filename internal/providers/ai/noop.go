package ai

import "context"

// NoOpOracle backs tests and environments without GEMINI_API_KEY,
// following the internal/providers/email.NoOpProvider pattern.
type NoOpOracle struct{}

func (NoOpOracle) ExtractReceipts(ctx context.Context, emailText string, attachments []Attachment, pledgeDate, emailDate string, expectedAmount int64) (*ReceiptAnalysis, error) {
	return nil, nil
}

func (NoOpOracle) ClassifyReply(ctx context.Context, emailText string, openAllocations []string) (*ReplyAnalysis, error) {
	return nil, nil
}
