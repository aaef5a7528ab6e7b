package delivery

import (
	"regexp"
	"strings"
)

var (
	styleBlockRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	scriptBlockRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// StripHTML reduces a rich email body to a plain-text alternative part.
func StripHTML(html string) string {
	s := styleBlockRe.ReplaceAllString(html, "")
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
