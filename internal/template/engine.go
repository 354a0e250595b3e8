package template

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ultrazend/ultrazend/internal/variables"
)

// ErrInvalidTemplate is wrapped by every Validate failure
var ErrInvalidTemplate = errors.New("invalid template")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// MissingStyle controls how previews show variables without a value
type MissingStyle string

const (
	// MissingLiteral keeps the token as written, e.g. "{{name}}"
	MissingLiteral MissingStyle = "literal"
	// MissingBracket shows a placeholder, e.g. "[name]"
	MissingBracket MissingStyle = "bracket"
)

// ParseMissingStyle converts a config or request value to a MissingStyle.
// An empty string selects MissingLiteral.
func ParseMissingStyle(s string) (MissingStyle, error) {
	switch MissingStyle(s) {
	case "", MissingLiteral:
		return MissingLiteral, nil
	case MissingBracket:
		return MissingBracket, nil
	default:
		return "", fmt.Errorf("unknown missing style %q (must be literal or bracket)", s)
	}
}

// PreviewOptions configures preview rendering
type PreviewOptions struct {
	MissingStyle MissingStyle
	SanitizeHTML bool
}

// Engine renders templates with variable values
type Engine struct {
	defaults PreviewOptions
}

// NewEngine creates a new template engine. defaults apply to previews that
// don't override them.
func NewEngine(defaults PreviewOptions) *Engine {
	if defaults.MissingStyle == "" {
		defaults.MissingStyle = MissingLiteral
	}
	return &Engine{defaults: defaults}
}

// Defaults returns the engine's preview options
func (e *Engine) Defaults() PreviewOptions {
	return e.defaults
}

// Render substitutes values into every part of tmpl. Unresolved tokens are
// kept literally and listed in Missing. Output is not sanitized.
func (e *Engine) Render(tmpl *Template, values map[string]string) *RenderResult {
	result := &RenderResult{
		Subject: variables.Substitute(tmpl.Subject, values),
		HTML:    variables.Substitute(tmpl.HTML, values),
		Text:    variables.Substitute(tmpl.Text, values),
	}
	result.Missing = missing(tmpl, values)
	return result
}

// Preview renders tmpl for display. A nil opts uses the engine defaults.
func (e *Engine) Preview(tmpl *Template, values map[string]string, opts *PreviewOptions) *RenderResult {
	o := e.defaults
	if opts != nil {
		o = *opts
		if o.MissingStyle == "" {
			o.MissingStyle = e.defaults.MissingStyle
		}
	}

	if o.MissingStyle != MissingBracket {
		result := e.Render(tmpl, values)
		if o.SanitizeHTML && result.HTML != "" {
			result.HTML = htmlSanitizer().Sanitize(result.HTML)
		}
		return result
	}

	bracket := func(name, raw string) string {
		if v := values[name]; v != "" {
			return v
		}
		return variables.Placeholder(name)
	}

	result := &RenderResult{
		Subject: variables.SubstituteFunc(tmpl.Subject, bracket),
		HTML:    variables.SubstituteFunc(tmpl.HTML, bracket),
		Text:    variables.SubstituteFunc(tmpl.Text, bracket),
		Missing: missing(tmpl, values),
	}
	if o.SanitizeHTML && result.HTML != "" {
		result.HTML = htmlSanitizer().Sanitize(result.HTML)
	}
	return result
}

// Validate checks that tmpl has the fields required to store it
func (e *Engine) Validate(tmpl *Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if !namePattern.MatchString(tmpl.Name) {
		return fmt.Errorf("%w: name must be 1-128 characters of letters, digits, '.', '_' or '-'", ErrInvalidTemplate)
	}
	if tmpl.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidTemplate)
	}
	if tmpl.HTML == "" && tmpl.Text == "" {
		return fmt.Errorf("%w: html or text is required", ErrInvalidTemplate)
	}
	return nil
}

// missing lists the template's variables that have no non-empty value
func missing(tmpl *Template, values map[string]string) []string {
	names := tmpl.Variables
	if names == nil {
		names = variables.ExtractAll(tmpl.Subject, tmpl.HTML, tmpl.Text)
	}

	var out []string
	for _, name := range names {
		if values[name] == "" {
			out = append(out, name)
		}
	}
	return out
}

var (
	sanitizerOnce sync.Once
	sanitizer     *bluemonday.Policy
)

func htmlSanitizer() *bluemonday.Policy {
	sanitizerOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowAttrs("align", "width", "height", "bgcolor").
			OnElements("table", "tr", "td", "th", "img")
		sanitizer = policy
	})
	return sanitizer
}
