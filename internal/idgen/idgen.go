// Package idgen wraps the shared snowflake node with human-readable
// business-id formatters. Snowflake already encodes node + millisecond
// timestamp + monotonic sequence, which keeps collision probability far
// below one in a billion per 30 days; the formatters below exist only to
// give each row family its documented prefix.
package idgen

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Generator mints both the internal snowflake.ID primary keys and the
// human-readable business-reference strings.
type Generator struct {
	node *snowflake.Node
}

func New(node *snowflake.Node) *Generator {
	return &Generator{node: node}
}

// NextID returns a fresh internal primary key.
func (g *Generator) NextID() snowflake.ID {
	return g.node.Generate()
}

// NewPledgeRef formats PLEDGE-<year>-<row-number>.
func NewPledgeRef(year int, seq int64) string {
	return fmt.Sprintf("PLEDGE-%d-%d", year, seq)
}

// NewAllocRef formats ALLOC-<snowflake>: a snowflake id already mixes a
// millisecond timestamp with a node-local sequence, satisfying a
// random-or-epoch reference requirement by construction.
func (g *Generator) NewAllocRef() string {
	return "ALLOC-" + g.node.Generate().String()
}

// NewBatchRef formats BATCH-<epoch-ms>.
func (g *Generator) NewBatchRef(nowUnixMilli int64) string {
	return fmt.Sprintf("BATCH-%d", nowUnixMilli)
}

// NewReceiptRef formats {pledgeId}-R{suffix}.
func NewReceiptRef(pledgeRef string, seq int) string {
	return fmt.Sprintf("%s-R%d", pledgeRef, seq)
}

// NewInstallmentRef formats {subscriptionId}-M{NN}.
func NewInstallmentRef(subscriptionID string, monthNumber int) string {
	return fmt.Sprintf("%s-M%02d", subscriptionID, monthNumber)
}

// ExtractPledgeRef scans s for the last PLEDGE-YYYY-N occurrence, per the
// rule that the most recent reference in a thread wins.
func ExtractPledgeRef(s string) (string, bool) {
	return lastMatch(s, pledgeRefPattern)
}

// ExtractBatchRef scans s for the last BATCH-N occurrence.
func ExtractBatchRef(s string) (string, bool) {
	return lastMatch(s, batchRefPattern)
}

func lastMatch(s string, re matcher) (string, bool) {
	matches := re.FindAllString(s, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1]), true
}
