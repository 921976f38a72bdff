// Package template personalizes campaign subject and body per recipient.
package template

import (
	"bytes"
	"fmt"
	"text/template"
)

// Data holds the variables available to a campaign template
type Data struct {
	Name     string
	Email    string
	Campaign string
}

// Engine renders campaign templates
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render renders subject and body for one recipient
func (e *Engine) Render(subject, body string, data Data) (string, string, error) {
	renderedSubject, err := render("subject", subject, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	renderedBody, err := render("body", body, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return renderedSubject, renderedBody, nil
}

// Validate checks template syntax without rendering. Used at campaign
// creation so a broken template never reaches the execution loop.
func (e *Engine) Validate(subject, body string) error {
	if _, err := template.New("subject").Parse(subject); err != nil {
		return fmt.Errorf("invalid subject template: %w", err)
	}
	if _, err := template.New("body").Parse(body); err != nil {
		return fmt.Errorf("invalid body template: %w", err)
	}
	return nil
}

func render(name, tmplStr string, data Data) (string, error) {
	t, err := template.New(name).Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
