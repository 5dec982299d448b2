package deviceage

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// NoticeData provides the fields a notice template can use
type NoticeData struct {
	Kind     string
	Severity string
	Age      string
	Hours    int
	Since    string
}

type compiled struct {
	Capability
	templates map[model.AlertSeverity]*template.Template
}

// Calculator decides whether a device has passed one of its age thresholds
type Calculator struct {
	kinds []model.DeviceKind
	caps  map[model.DeviceKind]*compiled
}

// NewCalculator compiles the capabilities. With none given DefaultCapabilities is used.
func NewCalculator(caps ...Capability) (*Calculator, error) {
	if len(caps) == 0 {
		caps = DefaultCapabilities()
	}

	c := &Calculator{caps: make(map[model.DeviceKind]*compiled, len(caps))}
	for _, capability := range caps {
		if capability.ValidEventType == nil {
			return nil, fmt.Errorf("capability %s: missing event type predicate", capability.Kind)
		}
		if _, dup := c.caps[capability.Kind]; dup {
			return nil, fmt.Errorf("capability %s: defined twice", capability.Kind)
		}

		cc := &compiled{Capability: capability, templates: make(map[model.AlertSeverity]*template.Template)}
		for severity, text := range capability.Templates {
			tpl, err := template.New(string(capability.Kind)).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("capability %s: invalid %s template: %w", capability.Kind, severity, err)
			}
			cc.templates[severity] = tpl
		}
		for _, level := range cc.levels() {
			if cc.templates[level.severity] == nil {
				return nil, fmt.Errorf("capability %s: missing %s template", capability.Kind, level.severity)
			}
		}

		c.caps[capability.Kind] = cc
		c.kinds = append(c.kinds, capability.Kind)
	}
	return c, nil
}

// Kinds returns the configured device kinds in registration order
func (c *Calculator) Kinds() []model.DeviceKind {
	return append([]model.DeviceKind(nil), c.kinds...)
}

// ValidEvent reports whether the event resets the age of its device kind
func (c *Calculator) ValidEvent(event model.DeviceEvent) bool {
	cc, ok := c.caps[event.Kind]
	return ok && cc.ValidEventType(event.EventType)
}

// Evaluate returns a notice when the device last reset by lastEvent is old
// enough at now to reach a threshold. The highest reached severity wins.
func (c *Calculator) Evaluate(kind model.DeviceKind, lastEvent model.DeviceEvent, now time.Time) (model.DeviceAgeNotice, bool) {
	cc, ok := c.caps[kind]
	if !ok || lastEvent.Kind != kind || !cc.ValidEventType(lastEvent.EventType) {
		return model.DeviceAgeNotice{}, false
	}

	age := now.Sub(lastEvent.OccurredAt)
	if age < 0 {
		return model.DeviceAgeNotice{}, false
	}

	var (
		severity model.AlertSeverity
		reached  bool
	)
	for _, level := range cc.levels() {
		if age >= level.after {
			severity = level.severity
			reached = true
		}
	}
	if !reached {
		return model.DeviceAgeNotice{}, false
	}

	data := NoticeData{
		Kind:     string(kind),
		Severity: string(severity),
		Age:      FormatAge(age),
		Hours:    int(age / time.Hour),
		Since:    lastEvent.OccurredAt.UTC().Format(time.RFC3339),
	}
	var buf bytes.Buffer
	message := fmt.Sprintf("%s is %s old", kind, data.Age)
	if err := cc.templates[severity].Execute(&buf, data); err == nil {
		message = buf.String()
	}

	return model.DeviceAgeNotice{
		ID:          uuid.New().String(),
		UserID:      lastEvent.UserID,
		Kind:        kind,
		Severity:    severity,
		Age:         age,
		LastEventAt: lastEvent.OccurredAt,
		Message:     message,
		CreatedAt:   now,
	}, true
}

type level struct {
	severity model.AlertSeverity
	after    time.Duration
}

// levels returns the enabled thresholds in ascending severity
func (c *compiled) levels() []level {
	var out []level
	for _, l := range []level{
		{model.AlertSeverityInfo, c.InfoAfter},
		{model.AlertSeverityWarn, c.WarnAfter},
		{model.AlertSeverityUrgent, c.UrgentAfter},
	} {
		if l.after > 0 {
			out = append(out, l)
		}
	}
	return out
}

// FormatAge renders an age as days and hours, e.g. "6d 20h"
func FormatAge(age time.Duration) string {
	hours := int(age / time.Hour)
	days, hours := hours/24, hours%24
	switch {
	case days == 0:
		return fmt.Sprintf("%dh", hours)
	case hours == 0:
		return fmt.Sprintf("%dd", days)
	default:
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}
