package generation

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vidmatrix/internal/model"
)

var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// ExtractProgress reads the latest percentage printed in the logs, falling back to the
// structured progress fraction.
func ExtractProgress(p model.Prediction) *float64 {
	if p.Logs != "" {
		if matches := percentPattern.FindAllStringSubmatch(p.Logs, -1); len(matches) > 0 {
			if v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64); err == nil {
				return &v
			}
		}
	}
	if p.Progress != nil {
		v := *p.Progress * 100
		return &v
	}
	return nil
}

type urler interface {
	URL() string
}

// ExtractURL finds the result URL in a prediction's output: a URL string, a {url: ...}
// object, or a list whose first element is one of those.
func ExtractURL(output any) (string, error) {
	switch v := output.(type) {
	case nil:
		return "", fmt.Errorf("%w: output is empty", ErrResultShape)
	case []any:
		if len(v) == 0 {
			return "", fmt.Errorf("%w: output list is empty", ErrResultShape)
		}
		return extractSingle(v[0])
	case []string:
		if len(v) == 0 {
			return "", fmt.Errorf("%w: output list is empty", ErrResultShape)
		}
		return extractSingle(v[0])
	default:
		return extractSingle(output)
	}
}

func extractSingle(v any) (string, error) {
	var candidate string
	switch t := v.(type) {
	case string:
		candidate = t
	case map[string]any:
		s, ok := t["url"].(string)
		if !ok {
			return "", fmt.Errorf("%w: object has no url field", ErrResultShape)
		}
		candidate = s
	case urler:
		candidate = t.URL()
	case fmt.Stringer:
		candidate = t.String()
	default:
		candidate = fmt.Sprint(v)
	}
	candidate = strings.TrimSpace(candidate)
	if !isHTTPURL(candidate) {
		return "", fmt.Errorf("%w: %q is not an http(s) URL", ErrResultShape, truncate(candidate, 120))
	}
	return candidate, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
