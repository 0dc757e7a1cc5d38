package pipeline

import (
	"regexp"
	"strings"
)

var (
	mdLinkRE      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	urlRE         = regexp.MustCompile(`https?://\S+`)
	mdEmphasisRE  = regexp.MustCompile(`\*{1,2}([^*]+)\*{1,2}`)
	backtickRE    = regexp.MustCompile("`([^`]+)`")
	listBulletRE  = regexp.MustCompile(`(?m)^[\-*]\s+`)
	longDashRE    = regexp.MustCompile(`\s*[\x{2014}\x{2013}]\s*`)
	endEllipsisRE = regexp.MustCompile(`\.\.\.\s*$`)
	doubleCommaRE = regexp.MustCompile(`,\s*,`)
	spacesRE      = regexp.MustCompile(`\s+`)
)

// PrepareForSpeech rewrites one sentence unit into text a TTS engine reads
// naturally: markdown and URLs are removed, a trailing ellipsis becomes a
// full stop, interior ellipses, dashes and semicolons become commas, and
// whitespace is collapsed. It returns "" for text with nothing speakable.
func PrepareForSpeech(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = mdLinkRE.ReplaceAllString(text, "$1")
	text = urlRE.ReplaceAllString(text, "")
	text = mdEmphasisRE.ReplaceAllString(text, "$1")
	text = backtickRE.ReplaceAllString(text, "$1")
	text = listBulletRE.ReplaceAllString(text, "")
	text = longDashRE.ReplaceAllString(text, ", ")

	text = strings.ReplaceAll(text, "…", "...")
	text = endEllipsisRE.ReplaceAllString(text, ".")
	text = strings.ReplaceAll(text, "...", ",")
	text = strings.ReplaceAll(text, ";", ",")

	text = doubleCommaRE.ReplaceAllString(text, ",")
	text = spacesRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
