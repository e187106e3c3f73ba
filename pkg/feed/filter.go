package feed

import (
	"github.com/cloudflare/ahocorasick"
)

// Filter suppresses event lines that contain any of a set of substrings, for
// example a sensor's own address or a noisy scanner's user agent.
type Filter struct {
	matcher *ahocorasick.Matcher
	n       int
}

func NewFilter(patterns []string) *Filter {
	var nonEmpty []string
	for _, p := range patterns {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return &Filter{}
	}
	return &Filter{matcher: ahocorasick.NewStringMatcher(nonEmpty), n: len(nonEmpty)}
}

// Allow reports whether the line contains none of the patterns.
func (f *Filter) Allow(line []byte) bool {
	if f == nil || f.matcher == nil {
		return true
	}
	return !f.matcher.Contains(line)
}

func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return f.n
}
