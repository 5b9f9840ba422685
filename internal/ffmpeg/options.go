package ffmpeg

import (
	"fmt"
	"regexp"
	"strings"
)

// dangerousPatterns indicate shell syntax. Options are passed straight to
// exec, never through a shell, but they usually come from a config file
// edited by hand and such text is always a mistake.
var dangerousPatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`\$\(`), "command substitution $(...)"},
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\$\{?[A-Za-z_]`), "variable reference"},
	{regexp.MustCompile(`;`), "command separator (;)"},
	{regexp.MustCompile(`&&|\|\|`), "command chaining"},
	{regexp.MustCompile(`[<>|]`), "redirection or pipe"},
}

// blockedOptions are controlled by the encoder itself.
var blockedOptions = map[string]string{
	"-i":                  "input is set by the encoder",
	"-y":                  "overwrite is set by the encoder",
	"-n":                  "overwrite is set by the encoder",
	"-ss":                 "seek is set from the segment range",
	"-t":                  "duration is set from the segment range",
	"-to":                 "duration is set from the segment range",
	"-fs":                 "size limits would truncate output instead of compressing it",
	"-filter_script":      "could load arbitrary script files",
	"-protocol_whitelist": "could enable dangerous protocols",
}

// ValidateOptions checks user supplied extra output options.
func ValidateOptions(opts []string) error {
	var problems []string
	for _, opt := range opts {
		for _, dp := range dangerousPatterns {
			if dp.pattern.MatchString(opt) {
				problems = append(problems, fmt.Sprintf("%q: %s", opt, dp.message))
			}
		}
		if reason, ok := blockedOptions[opt]; ok {
			problems = append(problems, fmt.Sprintf("%q is not allowed: %s", opt, reason))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid ffmpeg options: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SplitOptions splits a space separated option string, honouring single and
// double quotes.
func SplitOptions(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		have  bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			have = true
		case r == ' ' || r == '\t':
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if have {
		out = append(out, cur.String())
	}
	return out
}
