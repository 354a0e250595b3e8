package template

import (
	"time"

	"github.com/ultrazend/ultrazend/internal/variables"
)

// Template represents an email template
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html,omitempty"`
	Text        string    `json:"text,omitempty"`
	Variables   []string  `json:"variables"` // derived, see Refresh
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Refresh recomputes Variables from Subject, HTML and Text.
// It must run after any edit to those fields.
func (t *Template) Refresh() {
	t.Variables = variables.ExtractAll(t.Subject, t.HTML, t.Text)
}

// Version is a stored snapshot of a template's content
type Version struct {
	TemplateID string    `json:"template_id"`
	Version    int       `json:"version"`
	Subject    string    `json:"subject"`
	HTML       string    `json:"html,omitempty"`
	Text       string    `json:"text,omitempty"`
	Variables  []string  `json:"variables"`
	CreatedAt  time.Time `json:"created_at"`
}

// RenderResult contains rendered template output
type RenderResult struct {
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// ListFilter contains filters for listing templates
type ListFilter struct {
	Limit  int
	Offset int
	Search string
}

// Stats contains template statistics
type Stats struct {
	Total int64 `json:"total"`
}
