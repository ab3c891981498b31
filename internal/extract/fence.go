package extract

import "strings"

// block is one fenced region of a reply.
type block struct {
	lang string
	body string
}

// fences returns the closed fenced blocks of text in order. A fence that
// is never closed is not a block.
func fences(text string) []block {
	var (
		out    []block
		open   bool
		marker string
		lang   string
		body   []string
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !open {
			if m := fenceMarker(trimmed); m != "" {
				open, marker = true, m
				lang = strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, m[:1])))
				if i := strings.IndexAny(lang, " \t{"); i >= 0 {
					lang = lang[:i]
				}
				body = body[:0]
			}
			continue
		}
		if strings.HasPrefix(trimmed, marker) && strings.Trim(trimmed, marker[:1]) == "" {
			out = append(out, block{lang: lang, body: strings.Join(body, "\n")})
			open = false
			continue
		}
		body = append(body, line)
	}
	return out
}

// fenceMarker returns the run of backticks or tildes opening a fence.
func fenceMarker(line string) string {
	for _, c := range []string{"`", "~"} {
		n := 0
		for n < len(line) && line[n] == c[0] {
			n++
		}
		if n >= 3 {
			return line[:n]
		}
	}
	return ""
}

// outside returns text with every closed fenced block removed.
func outside(text string) string {
	var (
		keep   []string
		open   bool
		marker string
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !open && fenceMarker(trimmed) != "":
			open, marker = true, fenceMarker(trimmed)
		case open && strings.HasPrefix(trimmed, marker) && strings.Trim(trimmed, marker[:1]) == "":
			open = false
		case !open:
			keep = append(keep, line)
		}
	}
	return strings.TrimSpace(strings.Join(keep, "\n"))
}
