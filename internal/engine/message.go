package engine

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/t77yq/glucose-alerts/internal/evaluator"
	"github.com/t77yq/glucose-alerts/internal/model"
)

var defaultTemplates = map[model.ConditionType]string{
	model.ConditionAboveThreshold: `{{.RuleName}}: glucose {{.Value}} is above {{.Threshold}}`,
	model.ConditionBelowThreshold: `{{.RuleName}}: glucose {{.Value}} is below {{.Threshold}}`,
	model.ConditionRateOfChange:   `{{.RuleName}}: glucose {{.Value}} changing {{.Rate}} per minute over {{.WindowMinutes}} minutes`,
	model.ConditionRangeExit:      `{{.RuleName}}: glucose {{.Value}} is outside {{.Low}}-{{.High}}`,
}

// TemplateData provides the fields a rule's message template can use
type TemplateData struct {
	RuleID        string
	RuleName      string
	UserID        string
	DeviceID      string
	Severity      string
	Condition     string
	Value         string
	Threshold     string
	Low           string
	High          string
	Rate          string
	WindowMinutes int
	Timestamp     string
}

// MessageRenderer renders alert messages from rule templates.
// Parsed templates are cached by their source text.
type MessageRenderer struct {
	cache sync.Map
}

// NewMessageRenderer creates a renderer with an empty template cache
func NewMessageRenderer() *MessageRenderer {
	return &MessageRenderer{}
}

// Render builds the human-readable message for a rule firing on a reading
func (m *MessageRenderer) Render(rule model.AlertRule, reading model.Reading, recent []model.Reading) (string, error) {
	source := rule.MessageTemplate
	if source == "" {
		source = defaultTemplates[rule.ConditionType]
	}
	if source == "" {
		return "", fmt.Errorf("%w: rule %s: no message template for %q", model.ErrMalformedRule, rule.ID, rule.ConditionType)
	}

	tpl, err := m.parse(source)
	if err != nil {
		return "", fmt.Errorf("%w: rule %s: invalid message template: %v", model.ErrMalformedRule, rule.ID, err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, buildTemplateData(rule, reading, recent)); err != nil {
		return "", fmt.Errorf("%w: rule %s: failed to render message: %v", model.ErrMalformedRule, rule.ID, err)
	}
	return buf.String(), nil
}

func (m *MessageRenderer) parse(source string) (*template.Template, error) {
	if cached, ok := m.cache.Load(source); ok {
		return cached.(*template.Template), nil
	}
	tpl, err := template.New("alert-message").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, err
	}
	actual, _ := m.cache.LoadOrStore(source, tpl)
	return actual.(*template.Template), nil
}

func buildTemplateData(rule model.AlertRule, reading model.Reading, recent []model.Reading) TemplateData {
	name := rule.Name
	if name == "" {
		name = "Glucose alert"
	}
	data := TemplateData{
		RuleID:        rule.ID,
		RuleName:      name,
		UserID:        reading.UserID,
		DeviceID:      reading.DeviceID,
		Severity:      string(rule.Severity),
		Condition:     string(rule.ConditionType),
		Value:         reading.Value.String(),
		Threshold:     rule.ThresholdValue.String(),
		Low:           rule.ThresholdValue.Sub(rule.RangeBound).String(),
		High:          rule.ThresholdValue.Add(rule.RangeBound).String(),
		WindowMinutes: rule.RateWindowMinutes,
		Timestamp:     reading.Timestamp.UTC().Format(time.RFC3339),
	}
	if rule.ConditionType == model.ConditionRateOfChange {
		window := time.Duration(rule.RateWindowMinutes) * time.Minute
		if rate, ok := evaluator.RatePerMinute(reading, recent, window); ok {
			data.Rate = rate.StringFixed(2)
		}
	}
	return data
}
