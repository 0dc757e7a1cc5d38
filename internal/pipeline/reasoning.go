package pipeline

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter removes <think>…</think> blocks from a token stream. Tags may
// be split across any number of chunks.
type thinkFilter struct {
	inside  bool
	pending string // possible tag prefix held back from the last chunk
}

// Push returns the visible part of chunk.
func (f *thinkFilter) Push(chunk string) string {
	s := f.pending + chunk
	f.pending = ""
	var out strings.Builder
	for s != "" {
		tag := thinkOpen
		if f.inside {
			tag = thinkClose
		}
		if i := strings.Index(s, tag); i >= 0 {
			if !f.inside {
				out.WriteString(s[:i])
			}
			s = s[i+len(tag):]
			f.inside = !f.inside
			continue
		}
		keep := tagPrefixSuffix(s, tag)
		if !f.inside {
			out.WriteString(s[:len(s)-keep])
		}
		f.pending = s[len(s)-keep:]
		break
	}
	return out.String()
}

// Flush returns text held back at the end of the stream. An unterminated
// block is dropped.
func (f *thinkFilter) Flush() string {
	s := f.pending
	f.pending = ""
	if f.inside {
		return ""
	}
	return s
}

// tagPrefixSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func tagPrefixSuffix(s, tag string) int {
	for n := min(len(s), len(tag)-1); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
