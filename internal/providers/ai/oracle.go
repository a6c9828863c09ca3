// Package ai defines the AI oracle contract: two typed, synchronous
// calls that return a result or nil on any failure — network, parse,
// schema violation, or safety block. Callers branch on the returned
// enums, never on raw text.
package ai

import "context"

type Confidence string

const (
	ConfidenceHigh    Confidence = "HIGH"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceLow     Confidence = "LOW"
)

type ReceiptCategory string

const (
	CategoryReceiptSubmission ReceiptCategory = "RECEIPT_SUBMISSION"
	CategoryQuestion          ReceiptCategory = "QUESTION"
	CategoryIrrelevant        ReceiptCategory = "IRRELEVANT"
)

type ConfidenceDetails struct {
	AmountMatch      bool `json:"amount_match"`
	NameMatch        bool `json:"name_match"`
	DestinationMatch bool `json:"destination_match"`
}

type ValidReceipt struct {
	Filename          string            `json:"filename"`
	Amount            int64             `json:"amount"`
	AmountDeclared    int64             `json:"amount_declared"`
	Date              string            `json:"date"`
	SenderName        string            `json:"sender_name"`
	ConfidenceScore   Confidence        `json:"confidence_score"`
	ConfidenceDetails ConfidenceDetails `json:"confidence_details"`
}

// ReceiptAnalysis is ExtractReceipts' result.
type ReceiptAnalysis struct {
	Category       ReceiptCategory `json:"category"`
	Summary        string          `json:"summary"`
	ValidReceipts  []ValidReceipt  `json:"valid_receipts"`
	SuggestedReply string          `json:"suggested_reply,omitempty"`
}

type ReplyStatus string

const (
	ReplyConfirmedAll ReplyStatus = "CONFIRMED_ALL"
	ReplyPartial      ReplyStatus = "PARTIAL"
	ReplyAmbiguous    ReplyStatus = "AMBIGUOUS"
	ReplyQuery        ReplyStatus = "QUERY"
)

// ReplyAnalysis is ClassifyReply's result.
type ReplyAnalysis struct {
	Status            ReplyStatus `json:"status"`
	ConfirmedAllocIDs []string    `json:"confirmedAllocIds"`
	Reasoning         string      `json:"reasoning"`
}

type Attachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// allowedAttachmentMIME is the accepted attachment set; anything else, or
// anything over 20 MiB, is dropped before the call.
var allowedAttachmentMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
	"application/pdf": true,
}

const maxAttachmentBytes = 20 * 1024 * 1024

func filterAttachments(attachments []Attachment) []Attachment {
	kept := make([]Attachment, 0, len(attachments))
	for _, a := range attachments {
		if !allowedAttachmentMIME[a.MIMEType] {
			continue
		}
		if len(a.Content) > maxAttachmentBytes {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// Oracle is the AI analysis seam. A nil result with a nil error means
// "treat as AI_NULL" — the schema-violation/safety-block/parse-failure
// case; a non-nil error is logged only, never branched on.
type Oracle interface {
	ExtractReceipts(ctx context.Context, emailText string, attachments []Attachment, pledgeDate, emailDate string, expectedAmount int64) (*ReceiptAnalysis, error)
	ClassifyReply(ctx context.Context, emailText string, openAllocations []string) (*ReplyAnalysis, error)
}
