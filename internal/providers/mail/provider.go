// Package mail implements the mail gateway contract: send, reply-or-send,
// search by stored header id, thread context extraction and label
// management. It wraps internal/providers/email's SMTP plumbing for the
// wire transport and persists thread/label state in gorm so Search and
// label operations are real queries that survive a restart.
package mail

import "context"

type Attachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// Message is one entry in a reconstructed thread.
type Message struct {
	MessageID   string
	From        string
	To          []string
	CC          []string
	Subject     string
	Body        string
	SentAt      string // RFC3339; kept as string to avoid importing time into this thin seam
	Attachments []Attachment
}

// InboundMessage is what an inbound transport (webhook or poller) hands
// the gateway once it has received a message. RFC822ID and InReplyTo are
// used, in order, to resolve the message onto an existing thread before
// falling back to the sent-side subject+participants heuristic.
type InboundMessage struct {
	From        string
	To          []string
	CC          []string
	Subject     string
	Body        string
	RFC822ID    string
	InReplyTo   []string
	SentAt      string // RFC3339; empty means "now"
	Attachments []Attachment
}

// Thread is an opaque handle returned by Search, re-usable by SendOrReply
// and GetThreadContext.
type Thread struct {
	ThreadID string
}

// ThreadContext is getThreadContext's result: the newest message
// (Current) plus up to maxHistory prior messages (History),
// signature/quote-stripped, and Combined as a single rendering-ready blob
// for the AI oracle prompt.
type ThreadContext struct {
	Current  Message
	History  []Message
	Combined string
}

// Provider is the mail gateway seam. Implementations must enforce the 24
// MiB aggregate attachment cap: on overflow, Send appends a body note
// that refers the reader to the blob folder instead of failing.
type Provider interface {
	// Send delivers a brand new message and returns the id to persist.
	// MessageID prefers the RFC-822 header value; falls back to an
	// internal id when the transport does not expose one.
	Send(ctx context.Context, to, cc []string, subject, htmlBody string, attachments []Attachment) (string, error)

	// SendOrReply tries each priorID in order via Search; on the first
	// thread hit it posts a reply-to-all preserving CCs, else it sends a
	// new message. priorIDs may be RFC-822 or internal form.
	SendOrReply(ctx context.Context, to []string, subject, body string, priorIDs []string) (string, error)

	// Search resolves a stored id (RFC-822 or internal form) back to a
	// thread, or returns (nil, nil) if it cannot be found.
	Search(ctx context.Context, headerID string) (*Thread, error)

	// IngestInbound records a message an external transport has already
	// received, threading it onto an existing conversation when InReplyTo
	// or RFC822ID resolves, else starting a new one.
	IngestInbound(ctx context.Context, in InboundMessage) (*Thread, error)

	// GetThreadContext builds the CURRENT/HISTORY sections an AI Oracle
	// call or human reviewer consumes.
	GetThreadContext(ctx context.Context, thread *Thread, maxHistory int) (*ThreadContext, error)

	GetOrCreateLabel(ctx context.Context, name string) (string, error)
	AddLabel(ctx context.Context, thread *Thread, label string) error
	RemoveLabel(ctx context.Context, thread *Thread, label string) error
	ThreadHasLabel(ctx context.Context, thread *Thread, label string) (bool, error)

	// ThreadsByLabel returns every thread currently carrying label, minus
	// any thread carrying one of excludeLabels — the scan the Receipt
	// Processor (§4.9) and Watchdog (§4.10) run every sweep.
	ThreadsByLabel(ctx context.Context, label string, excludeLabels []string) ([]*Thread, error)
}
