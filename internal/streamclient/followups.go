package streamclient

import "strings"

const (
	followupsOpen  = "[followups]"
	followupsClose = "[/followups]"
	legacyMarker   = "**You might ask:**"
)

// ExtractFollowups splits assistant content from its trailing suggested
// questions. The tagged block form lists one suggestion per line between
// [followups] and [/followups]; older answers instead end with a
// "**You might ask:**" heading followed by bullets, parsed as a fallback.
// Content without either form is returned unchanged.
func ExtractFollowups(content string) (string, []string) {
	if open := strings.LastIndex(content, followupsOpen); open >= 0 {
		rest := content[open+len(followupsOpen):]
		if end := strings.Index(rest, followupsClose); end >= 0 {
			suggestions := parseSuggestionLines(rest[:end])
			body := strings.TrimRight(content[:open], " \t\n")
			return body, suggestions
		}
	}

	if idx := strings.LastIndex(content, legacyMarker); idx >= 0 {
		suggestions := parseBulletLines(content[idx+len(legacyMarker):])
		if len(suggestions) > 0 {
			body := strings.TrimRight(content[:idx], " \t\n")
			return body, suggestions
		}
	}

	return content, nil
}

func parseSuggestionLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// parseBulletLines accepts only bulleted lines, so a heading that happens to
// appear mid-sentence does not swallow the text after it.
func parseBulletLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "-")
		if !ok {
			rest, ok = strings.CutPrefix(line, "*")
		}
		if !ok {
			continue
		}
		if q := strings.TrimSpace(rest); q != "" {
			out = append(out, q)
		}
	}
	return out
}
