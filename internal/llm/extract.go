package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var fenceRegex = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractCode pulls the code out of a reply. Fenced blocks in the requested
// language (or unlabelled) are concatenated in order; a reply without any
// fence is taken verbatim.
func ExtractCode(reply, language string) string {
	matches := fenceRegex.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(reply)
	}
	var blocks []string
	for _, m := range matches {
		lang := strings.ToLower(m[1])
		if lang != "" && !sameLanguage(lang, language) {
			continue
		}
		if body := strings.TrimSpace(m[2]); body != "" {
			blocks = append(blocks, body)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func sameLanguage(fence, language string) bool {
	switch strings.ToLower(language) {
	case "python":
		return fence == "python" || fence == "py" || fence == "python3"
	case "go":
		return fence == "go" || fence == "golang"
	default:
		return fence == strings.ToLower(language)
	}
}

// firstJSON returns the first balanced {...} or [...] value in s.
func firstJSON(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseCritique decodes a critique reply. It accepts a JSON object anywhere
// in the text and falls back to a leading ACCEPT/REVISE keyword.
func ParseCritique(reply string) (Critique, error) {
	if raw, ok := firstJSON(reply, '{', '}'); ok {
		var c Critique
		if err := json.Unmarshal([]byte(raw), &c); err == nil {
			c.Decision = Decision(strings.ToLower(strings.TrimSpace(string(c.Decision))))
			switch c.Decision {
			case DecisionAccept:
				return Critique{Decision: DecisionAccept}, nil
			case DecisionRevise:
				if strings.TrimSpace(c.Guidance) == "" {
					return Critique{}, fmt.Errorf("%w: revise without guidance", ErrEmptyResponse)
				}
				return c, nil
			}
		}
	}

	trimmed := strings.TrimSpace(reply)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "ACCEPT"):
		return Critique{Decision: DecisionAccept}, nil
	case strings.HasPrefix(upper, "REVISE"):
		guidance := strings.TrimSpace(strings.TrimLeft(trimmed[len("REVISE"):], ":- \n"))
		if guidance == "" {
			return Critique{}, fmt.Errorf("%w: revise without guidance", ErrEmptyResponse)
		}
		return Critique{Decision: DecisionRevise, Guidance: guidance}, nil
	}
	return Critique{}, fmt.Errorf("%w: unrecognised critique reply", ErrEmptyResponse)
}

var numberedItem = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+)$`)

// ParseProposals decodes a JSON array of proposals, falling back to a
// numbered or bulleted list with one proposal per item.
func ParseProposals(reply string) ([]domain.Proposal, error) {
	if raw, ok := firstJSON(reply, '[', ']'); ok {
		var props []domain.Proposal
		if err := json.Unmarshal([]byte(raw), &props); err == nil {
			out := props[:0]
			for _, p := range props {
				if strings.TrimSpace(p.Title+p.Text) != "" {
					out = append(out, p)
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}

	var props []domain.Proposal
	for _, line := range strings.Split(reply, "\n") {
		m := numberedItem.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title, text, found := strings.Cut(m[1], ":")
		if !found {
			props = append(props, domain.Proposal{Text: strings.TrimSpace(m[1])})
			continue
		}
		props = append(props, domain.Proposal{
			Title: strings.Trim(strings.TrimSpace(title), "*"),
			Text:  strings.TrimSpace(text),
		})
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("%w: no proposals found", ErrEmptyResponse)
	}
	return props, nil
}
