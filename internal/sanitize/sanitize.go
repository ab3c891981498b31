// Package sanitize cleans untrusted text before it is placed in a prompt
// or written to a report.
package sanitize

import (
	"regexp"
	"strings"
)

// delimiters that must not appear in untrusted prompt content.
var dangerousDelimiters = []string{
	"<user-request>",
	"</user-request>",
	"<input-files>",
	"</input-files>",
	"<execution-result>",
	"</execution-result>",
	"<analysis-history>",
	"</analysis-history>",
	"<namespace>",
	"</namespace>",
}

// sensitivePatterns detects common secrets that should never reach a
// model prompt or a report.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)\s*[:=]\s*["']?[a-zA-Z0-9_\-]{16,}`),
	regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*["'].+["']`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`), // AWS access key ID
	regexp.MustCompile(`(?i)(?:secret[_-]?key|secretkey)\s*[:=]\s*["']?[a-zA-Z0-9_\-]{16,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`), // OpenAI-style key
}

// Redacted replaces a matched secret.
const Redacted = "[redacted]"

// PromptContent strips the XML-like delimiters that prompt templates use
// to separate trusted instructions from untrusted data.
func PromptContent(content string) string {
	result := content
	for _, delim := range dangerousDelimiters {
		result = strings.ReplaceAll(result, delim, "")
	}
	return result
}

// Secrets replaces anything that looks like a credential with Redacted.
func Secrets(content string) string {
	result := content
	for _, pat := range sensitivePatterns {
		result = pat.ReplaceAllString(result, Redacted)
	}
	return result
}

// Untrusted applies both PromptContent and Secrets.
func Untrusted(content string) string {
	return Secrets(PromptContent(content))
}
