package idgen

import "regexp"

type matcher interface {
	FindAllString(s string, n int) []string
}

var (
	pledgeRefPattern = regexp.MustCompile(`PLEDGE-\d{4}-\d+`)
	batchRefPattern  = regexp.MustCompile(`BATCH-\d+`)
)
