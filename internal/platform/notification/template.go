package notification

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// NotificationType represents the channel a template is written for.
type NotificationType string

const (
	TypeSMS  NotificationType = "sms"
	TypePush NotificationType = "push"
)

// Built-in template IDs.
const (
	TemplateReminderPush = "reminder-push"
	TemplateReminderSMS  = "reminder-sms"
)

// Template defines a reusable notification template. Subject is the push
// title; SMS templates use only Body.
type Template struct {
	ID      string           `json:"id" yaml:"id"`
	Name    string           `json:"name" yaml:"name"`
	Subject string           `json:"subject" yaml:"subject"`
	Body    string           `json:"body" yaml:"body"`
	Type    NotificationType `json:"type" yaml:"type"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateReminderPush,
			Name:    "Medication Reminder Push",
			Subject: "💊 Medication Reminder",
			Body:    "Time to take {{medication_name}}",
			Type:    TypePush,
		},
		{
			ID:      TemplateReminderSMS,
			Name:    "Medication Reminder SMS",
			Body:    "🏥 Medi Reminder: Time to take {{medication_name}} ({{dosage}}). Stay healthy!",
			Type:    TypeSMS,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// LoadOverrides reads templates from a YAML file and registers them over the
// built-ins. The file holds a top-level "templates" list.
func (e *TemplateEngine) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template overrides: %w", err)
	}
	var file struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse template overrides: %w", err)
	}
	for i, t := range file.Templates {
		if t.ID == "" {
			return fmt.Errorf("template override %d has no id", i)
		}
		e.RegisterTemplate(t)
	}
	return nil
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
