package extract

import (
	"regexp"
	"strings"
)

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^\)]+\)`)
	markdownLinkRe  = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)
	rawURLRe        = regexp.MustCompile(`https?://[^\s]+`)
	hashtagRe       = regexp.MustCompile(`#[A-Za-z0-9_]+`)
	lowerUpperRe    = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	acronymWordRe   = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// CleanForEmbedding strips the markup noise that skews embedding similarity:
// markdown images and links collapse to their label, raw URLs are dropped,
// and hashtags are split into words (#PortExplosion -> "Port Explosion").
func CleanForEmbedding(text string) string {
	text = markdownImageRe.ReplaceAllString(text, "")
	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = rawURLRe.ReplaceAllString(text, "")
	text = hashtagRe.ReplaceAllStringFunc(text, splitHashtag)
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
}

func splitHashtag(tag string) string {
	body := strings.ReplaceAll(tag[1:], "_", " ")
	body = lowerUpperRe.ReplaceAllString(body, "$1 $2")
	body = acronymWordRe.ReplaceAllString(body, "$1 $2")
	return " " + body
}
