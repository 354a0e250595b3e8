// Package variables extracts and substitutes {{name}} placeholders in
// template subjects and bodies.
package variables

import (
	"iter"
	"regexp"
	"strings"
)

// tokenPattern matches "{{", optional whitespace, a name made of one or more
// non-brace non-whitespace characters, optional whitespace and "}}".
var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Token is a single placeholder occurrence
type Token struct {
	Name  string // variable name without braces or padding
	Raw   string // text as written, e.g. "{{ name }}"
	Start int    // byte offset of the first '{'
	End   int    // byte offset just past the last '}'
}

// Tokens returns every placeholder occurrence in s, in order.
// The sequence can be ranged over any number of times.
func Tokens(s string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for _, loc := range tokenPattern.FindAllStringSubmatchIndex(s, -1) {
			tok := Token{
				Name:  s[loc[2]:loc[3]],
				Raw:   s[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			}
			if !yield(tok) {
				return
			}
		}
	}
}

// Extract returns the distinct variable names found in s in the order they
// first appear. The result is never nil.
func Extract(s string) []string {
	names := []string{}
	seen := make(map[string]struct{})
	for tok := range Tokens(s) {
		if _, ok := seen[tok.Name]; ok {
			continue
		}
		seen[tok.Name] = struct{}{}
		names = append(names, tok.Name)
	}
	return names
}

// ExtractAll extracts each part independently and merges the results,
// keeping the first position of every name. Templates call it as
// ExtractAll(subject, html, text).
func ExtractAll(parts ...string) []string {
	names := []string{}
	seen := make(map[string]struct{})
	for _, part := range parts {
		for _, name := range Extract(part) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// SubstituteFunc replaces every token in content with fn(name, raw).
// Returning raw keeps the token as written.
func SubstituteFunc(content string, fn func(name, raw string) string) string {
	if !strings.Contains(content, "{{") {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	last := 0
	for tok := range Tokens(content) {
		b.WriteString(content[last:tok.Start])
		b.WriteString(fn(tok.Name, tok.Raw))
		last = tok.End
	}
	b.WriteString(content[last:])

	return b.String()
}

// Substitute replaces tokens whose name has a non-empty value in values.
// Tokens with a missing or empty value are left exactly as written.
// Replacement values are inserted verbatim and are not scanned again.
func Substitute(content string, values map[string]string) string {
	return SubstituteFunc(content, func(name, raw string) string {
		if v := values[name]; v != "" {
			return v
		}
		return raw
	})
}

// Missing returns the distinct names in content that Substitute would leave
// unresolved with values, in first-occurrence order.
func Missing(content string, values map[string]string) []string {
	var missing []string
	for _, name := range Extract(content) {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Placeholder is the bracket form shown in previews for an unfilled variable.
func Placeholder(name string) string {
	return "[" + name + "]"
}
