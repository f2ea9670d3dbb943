package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"
)

var (
	errTemplateParse     = errors.New("template parsing failed")
	errTemplateExecution = errors.New("template execution failed")
	errInvalidJSON       = errors.New("invalid JSON generated")
)

// Level is the severity shown with a status message
type Level string

const (
	Info    Level = "info"
	Warning Level = "warning"
	Error   Level = "error"
)

// Status is the message published on every cycle
type Status struct {
	Level     Level          `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	NodeID    string         `json:"node_id"`
	BootID    string         `json:"boot_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StatusSource builds the status for the current cycle
type StatusSource func() Status

const (
	DiscordColorRed    = 15158332
	DiscordColorYellow = 16776960
	DiscordColorBlue   = 3447003
)

// DiscordTemplate renders a status as a Discord embed
const DiscordTemplate = `{
  "embeds": [{
    "title": {{json .status.Title}},
    "description": {{json .status.Message}},
    "color": {{if eq .status.Level "error"}}15158332{{else if eq .status.Level "warning"}}16776960{{else}}3447003{{end}},
    "timestamp": {{json .status.Timestamp}},
    "fields": [
      {
        "name": "Node ID",
        "value": {{json .status.NodeID}},
        "inline": true
      }
      {{range $key, $value := .status.Details}},
      {
        "name": {{json $key}},
        "value": {{json $value}},
        "inline": true
      }
      {{end}}
    ]
  }]
}`

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON marshaling failed: %w", err)
			}
			return string(b), nil
		},
	}
}

// parseTemplate compiles a body template. An empty template sends the
// status as plain JSON.
func parseTemplate(text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	tmpl, err := template.New("webhook").Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateParse, err)
	}
	return tmpl, nil
}

func renderPayload(tmpl *template.Template, status Status) ([]byte, error) {
	if status.Timestamp == "" {
		status.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if tmpl == nil {
		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		return b, nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"status": status}); err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateExecution, err)
	}
	if !json.Valid(buf.Bytes()) {
		return nil, errInvalidJSON
	}
	return buf.Bytes(), nil
}

// ValidateTemplate reports whether text compiles as a body template
func ValidateTemplate(text string) error {
	_, err := parseTemplate(text)
	return err
}
