package phrase

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.88
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score accepted for a
// window whose Double Metaphone codes overlap the phrase. Default: 0.80.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score accepted when no
// phonetic overlap exists. Default: 0.88.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher decides whether a normalized transcript contains one of a set of
// activation phrases. Whisper-style transcribers rarely spell a made-up name
// the same way twice ("jarvis", "jervis", "jar vis"), so beyond exact
// containment the matcher slides a window the size of each phrase over the
// transcript and scores it with Double Metaphone and Jaro-Winkler.
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a [Matcher] configured with opts.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match reports the phrase from phrases that best matches transcript and its
// score in [0, 1]. Both transcript and phrases are normalized with
// [Normalize] before comparison. An exact containment scores 1.
func (m *Matcher) Match(transcript string, phrases []string) (phrase string, score float64, matched bool) {
	text := Normalize(transcript)
	if text == "" {
		return "", 0, false
	}
	words := strings.Fields(text)

	var (
		best      string
		bestScore float64
	)
	for _, p := range phrases {
		np := Normalize(p)
		if np == "" {
			continue
		}
		s := m.score(text, words, np)
		if s > bestScore {
			best, bestScore = p, s
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

// score returns the match score of phrase against the transcript, or 0 when
// it falls under both thresholds.
func (m *Matcher) score(text string, words []string, phrase string) float64 {
	if containsWords(text, phrase) {
		return 1
	}
	pwords := strings.Fields(phrase)
	if len(pwords) >= 2 && allPresent(pwords, words) {
		return 1
	}

	phraseCodes := codesForTokens(pwords)
	joined := strings.Join(pwords, "")

	var best float64
	for _, win := range windows(words, len(pwords)) {
		jw := bestJWScore(win, pwords, joined)
		if codesOverlap(codesForTokens(win), phraseCodes) {
			if jw >= m.phoneticThreshold && jw > best {
				best = jw
			}
			continue
		}
		if jw >= m.fuzzyThreshold && jw > best {
			best = jw
		}
	}
	return best
}

// Normalize lowercases s, strips accents and punctuation, turns underscores
// into spaces and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", " ")
	if out, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s); err == nil {
		s = out
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// containsWords reports whether phrase occurs in text on word boundaries.
func containsWords(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

func allPresent(needles, haystack []string) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if h == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// windows returns every run of n consecutive words, plus runs of n-1 and n+1
// so that a phrase split or merged by the transcriber still lines up. When
// words is shorter than n the whole slice is the only window.
func windows(words []string, n int) [][]string {
	if len(words) <= n {
		return [][]string{words}
	}
	var out [][]string
	for size := max(n-1, 1); size <= n+1; size++ {
		for i := 0; i+size <= len(words); i++ {
			out = append(out, words[i:i+size])
		}
	}
	return out
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore compares the window with the phrase both as spaced strings and
// with spaces removed ("jar vis" against "jarvis"), returning the higher
// Jaro-Winkler score.
func bestJWScore(window, phrase []string, phraseJoined string) float64 {
	score := matchr.JaroWinkler(strings.Join(window, " "), strings.Join(phrase, " "), false)
	if s := matchr.JaroWinkler(strings.Join(window, ""), phraseJoined, false); s > score {
		score = s
	}
	return score
}
