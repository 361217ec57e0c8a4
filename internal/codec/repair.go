package codec

import (
	"regexp"
	"strings"
)

var (
	// emptyParamRe matches property parameters with empty values such as
	// "DTSTART;TZID=:20240101T000000". Some servers emit these and strict
	// parsers reject the whole property.
	emptyParamRe = regexp.MustCompile(`;[A-Za-z0-9-]+=([;:])`)

	// identRe extracts identifying fields from a payload that failed
	// structural parsing, for log messages only.
	identRe = regexp.MustCompile(`(?m)^(UID|SUMMARY|FN)[;:](.*)\r?$`)
)

// Unfold undoes the line folding rule of iCalendar and vCard: a CRLF (or
// bare LF) followed by a space or tab continues the previous line. Repair
// substitutions only work on unfolded lines.
func Unfold(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n ", "")
	raw = strings.ReplaceAll(raw, "\n\t", "")
	return raw
}

// Repair unfolds the payload and applies targeted substitutions for known-bad
// patterns before structural parsing. The output uses CRLF line endings as
// the parsers expect.
func Repair(raw string) string {
	unfolded := Unfold(raw)

	// Strip parameters with empty values ("...;TZID=:..." -> "...:...").
	unfolded = emptyParamRe.ReplaceAllString(unfolded, "$1")

	var b strings.Builder
	for _, line := range strings.Split(unfolded, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

// identify extracts UID/SUMMARY/FN values from a raw component for log
// messages when structural parsing failed.
func identify(raw string) string {
	matches := identRe.FindAllStringSubmatch(Unfold(raw), -1)
	if len(matches) == 0 {
		return "unidentified component"
	}

	var parts []string
	for _, m := range matches {
		parts = append(parts, m[1]+"="+strings.TrimSpace(m[2]))
	}
	return strings.Join(parts, " ")
}

// splitComponents cuts a payload into top-level BEGIN:<name>...END:<name>
// blocks so components can be parsed in isolation when the payload as a
// whole fails to parse.
func splitComponents(raw string, names ...string) []string {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var blocks []string
	var current []string
	var inside string

	for _, line := range strings.Split(raw, "\r\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case inside == "" && strings.HasPrefix(trimmed, "BEGIN:") && wanted[strings.TrimPrefix(trimmed, "BEGIN:")]:
			inside = strings.TrimPrefix(trimmed, "BEGIN:")
			current = []string{line}
		case inside != "" && trimmed == "END:"+inside:
			current = append(current, line)
			blocks = append(blocks, strings.Join(current, "\r\n")+"\r\n")
			inside = ""
			current = nil
		case inside != "":
			current = append(current, line)
		}
	}

	return blocks
}
