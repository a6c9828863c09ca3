package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiOracle is grounded on other_examples' hf_dsl_agent.go: client
// construction via genai.NewClient, forced JSON output via
// ResponseMIMEType, and safety thresholds relaxed since receipt/reply
// text is financial correspondence, not adversarial content.
type GeminiOracle struct {
	client *genai.Client
	model  *genai.GenerativeModel
	log    *zap.Logger
}

func NewGeminiOracle(ctx context.Context, apiKey, modelName string, log *zap.Logger) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ai: GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("ai: creating genai client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	model := client.GenerativeModel(modelName)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}
	model.ResponseMIMEType = "application/json"

	return &GeminiOracle{client: client, model: model, log: log.Named("ai.gemini")}, nil
}

func (o *GeminiOracle) Close() error {
	if o.client != nil {
		return o.client.Close()
	}
	return nil
}

func (o *GeminiOracle) ExtractReceipts(ctx context.Context, emailText string, attachments []Attachment, pledgeDate, emailDate string, expectedAmount int64) (*ReceiptAnalysis, error) {
	kept := filterAttachments(attachments)

	parts := []genai.Part{genai.Text(extractReceiptsPrompt(emailText, pledgeDate, emailDate, expectedAmount))}
	for _, a := range kept {
		parts = append(parts, genai.Blob{MIMEType: a.MIMEType, Data: a.Content})
	}

	resp, err := o.model.GenerateContent(ctx, parts...)
	if err != nil {
		o.log.Warn("extract receipts call failed", zap.Error(err))
		return nil, err
	}

	text, ok := firstTextPart(resp)
	if !ok {
		return nil, nil
	}

	var result ReceiptAnalysis
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		o.log.Warn("extract receipts response failed to parse", zap.Error(err))
		return nil, nil
	}
	if !validReceiptAnalysis(&result) {
		o.log.Warn("extract receipts response failed schema validation")
		return nil, nil
	}
	return &result, nil
}

func (o *GeminiOracle) ClassifyReply(ctx context.Context, emailText string, openAllocations []string) (*ReplyAnalysis, error) {
	resp, err := o.model.GenerateContent(ctx, genai.Text(classifyReplyPrompt(emailText, openAllocations)))
	if err != nil {
		o.log.Warn("classify reply call failed", zap.Error(err))
		return nil, err
	}

	text, ok := firstTextPart(resp)
	if !ok {
		return nil, nil
	}

	var result ReplyAnalysis
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		o.log.Warn("classify reply response failed to parse", zap.Error(err))
		return nil, nil
	}
	if !validReplyAnalysis(&result, openAllocations) {
		o.log.Warn("classify reply response failed schema validation")
		return nil, nil
	}
	return &result, nil
}

func firstTextPart(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", false
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", false
	}
	text, ok := parts[0].(genai.Text)
	if !ok {
		return "", false
	}
	return string(text), true
}

func validReceiptAnalysis(r *ReceiptAnalysis) bool {
	switch r.Category {
	case CategoryReceiptSubmission, CategoryQuestion, CategoryIrrelevant:
	default:
		return false
	}
	for _, vr := range r.ValidReceipts {
		switch vr.ConfidenceScore {
		case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		default:
			return false
		}
	}
	return true
}

func validReplyAnalysis(r *ReplyAnalysis, openAllocations []string) bool {
	switch r.Status {
	case ReplyConfirmedAll, ReplyPartial, ReplyAmbiguous, ReplyQuery:
	default:
		return false
	}
	open := make(map[string]bool, len(openAllocations))
	for _, id := range openAllocations {
		open[id] = true
	}
	for _, id := range r.ConfirmedAllocIDs {
		if !open[id] {
			return false
		}
	}
	return true
}

func extractReceiptsPrompt(emailText, pledgeDate, emailDate string, expectedAmount int64) string {
	return fmt.Sprintf(`You are reviewing a donor email for proof of a bank transfer against a pledge.
Pledge date: %s. Email date: %s. Expected amount (smallest currency unit): %d.
Classify as RECEIPT_SUBMISSION, QUESTION, or IRRELEVANT. If ambiguous about
amounts or dates, prefer MEDIUM or LOW confidence over guessing. Respond
strictly as JSON matching the ReceiptAnalysis schema.

Email:
%s`, pledgeDate, emailDate, expectedAmount, emailText)
}

func classifyReplyPrompt(emailText string, openAllocations []string) string {
	encoded, _ := json.Marshal(openAllocations)
	return fmt.Sprintf(`You are classifying a hostel reply to an allocation intimation email.
Open allocation ids: %s.
Explicit identifier mentions (allocation id, CMS id, amount, donor name) are
definitive. A single open allocation plus a bare "confirmed" implies
CONFIRMED_ALL. Multiple open allocations plus a vague affirmation implies
AMBIGUOUS. Any negative or query phrase implies QUERY. confirmedAllocIds
must be a subset of the open allocation ids. Respond strictly as JSON
matching the ReplyAnalysis schema.

Email:
%s`, string(encoded), emailText)
}
