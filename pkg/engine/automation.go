package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursekit/notify/pkg/notification"
	"github.com/coursekit/notify/pkg/templates"
)

// AudienceType selects how a rule resolves its recipients.
type AudienceType string

const (
	// AudienceAll targets every user in the directory.
	AudienceAll AudienceType = "all"
	// AudienceSpecific targets an explicit id list.
	AudienceSpecific AudienceType = "specific"
)

// Audience describes who receives an automation-triggered notification.
type Audience struct {
	Type    AudienceType `yaml:"type" json:"type"`
	UserIDs []string     `yaml:"user_ids,omitempty" json:"user_ids,omitempty"`
}

// RuleContent is the rule's message body with {{placeholders}} resolved
// per recipient against the trigger payload and user fields.
type RuleContent struct {
	Subject string `yaml:"subject,omitempty" json:"subject,omitempty"`
	Body    string `yaml:"body" json:"body"`
}

// RuleDelay defers the dispatch of a triggered notification.
type RuleDelay struct {
	Minutes int `yaml:"minutes,omitempty" json:"minutes,omitempty"`
	Hours   int `yaml:"hours,omitempty" json:"hours,omitempty"`
	Days    int `yaml:"days,omitempty" json:"days,omitempty"`
}

// Duration converts the delay to a time.Duration.
func (d RuleDelay) Duration() time.Duration {
	return time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Days)*24*time.Hour
}

// Rule maps a platform event to a notification action, optionally
// conditioned and delayed.
type Rule struct {
	Name         string                 `yaml:"name" json:"name"`
	TriggerEvent string                 `yaml:"trigger_event" json:"trigger_event"`
	Conditions   map[string]any         `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Audience     Audience               `yaml:"audience" json:"audience"`
	Category     notification.Category  `yaml:"category" json:"category"`
	Channels     []notification.Channel `yaml:"channels" json:"channels"`
	Priority     notification.Priority  `yaml:"priority,omitempty" json:"priority,omitempty"`
	Content      RuleContent            `yaml:"content" json:"content"`
	Delay        RuleDelay              `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// Validate reports the first structural problem in the rule.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.TriggerEvent == "" {
		return fmt.Errorf("%w: rule %q has no trigger event", ErrInvalidRule, r.Name)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: rule %q has no channels", ErrInvalidRule, r.Name)
	}
	for _, ch := range r.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: rule %q uses unknown channel %q", ErrInvalidRule, r.Name, ch)
		}
	}
	switch r.Audience.Type {
	case AudienceAll:
	case AudienceSpecific:
		if len(r.Audience.UserIDs) == 0 {
			return fmt.Errorf("%w: rule %q targets specific users but lists none", ErrInvalidRule, r.Name)
		}
	default:
		return fmt.Errorf("%w: rule %q has unknown audience type %q", ErrInvalidRule, r.Name, r.Audience.Type)
	}
	if r.Content.Body == "" {
		return fmt.Errorf("%w: rule %q has no content body", ErrInvalidRule, r.Name)
	}
	return nil
}

// Matches reports whether every rule condition equals the corresponding
// trigger payload value. Values are compared by their string form so
// numeric payloads match numeric conditions regardless of JSON/YAML
// decoding types.
func (r Rule) Matches(data map[string]any) bool {
	for key, want := range r.Conditions {
		got, ok := data[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// RegisterRules adds automation rules after validating each.
func (e *Engine) RegisterRules(rules ...Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.rules = append(e.rules, rules...)
	return nil
}

// Rules returns a copy of the registered rules.
func (e *Engine) Rules() []Rule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// TriggerAutomation evaluates every rule bound to the event and
// dispatches matching ones: it resolves the audience, personalizes the
// rule content per recipient, and sends on each configured channel after
// the rule's delay. Per-recipient failures are logged and skipped.
// It returns the delivery ids created.
func (e *Engine) TriggerAutomation(ctx context.Context, eventName string, data map[string]any) ([]string, error) {
	e.rulesMu.RLock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.TriggerEvent == eventName && r.Matches(data) {
			rules = append(rules, r)
		}
	}
	e.rulesMu.RUnlock()

	var ids []string
	for _, rule := range rules {
		audience, err := e.resolveAudience(ctx, rule.Audience)
		if err != nil {
			return ids, fmt.Errorf("failed to resolve audience for rule %q: %w", rule.Name, err)
		}

		var sendAt *time.Time
		if delay := rule.Delay.Duration(); delay > 0 {
			at := e.now().Add(delay)
			sendAt = &at
		}

		for _, user := range audience {
			content, err := personalize(rule.Content, data, user)
			if err != nil {
				e.log.ErrorContext(ctx, "failed to personalize rule content",
					slog.String("rule", rule.Name),
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			for _, channel := range rule.Channels {
				id, err := e.Send(ctx, notification.Payload{
					UserID:     user.ID,
					Channel:    channel,
					Category:   rule.Category,
					Priority:   rule.Priority,
					Content:    content,
					Scheduling: notification.Scheduling{SendAt: sendAt},
				})
				if err != nil {
					e.log.ErrorContext(ctx, "automation send failed",
						slog.String("rule", rule.Name),
						slog.String("user_id", user.ID),
						slog.String("channel", string(channel)),
						slog.String("error", err.Error()),
					)
					continue
				}
				if id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids, nil
}

func (e *Engine) resolveAudience(ctx context.Context, audience Audience) ([]User, error) {
	switch audience.Type {
	case AudienceAll:
		return e.users.List(ctx)
	case AudienceSpecific:
		users := make([]User, 0, len(audience.UserIDs))
		for _, id := range audience.UserIDs {
			u, err := e.users.Get(ctx, id)
			if err != nil {
				// Unknown recipients are skipped, not fatal: the id list
				// may outlive the user.
				e.log.WarnContext(ctx, "automation recipient not found", slog.String("user_id", id))
				continue
			}
			users = append(users, *u)
		}
		return users, nil
	}
	return nil, fmt.Errorf("%w: audience type %q", ErrInvalidRule, audience.Type)
}

// personalize renders the rule content against the trigger payload plus
// the recipient's fields under "user".
func personalize(content RuleContent, data map[string]any, user User) (notification.Content, error) {
	merged := make(map[string]any, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	merged["user"] = user.TemplateData()

	body, err := templates.RenderString(content.Body, merged)
	if err != nil {
		return notification.Content{}, err
	}
	subject := content.Subject
	if subject != "" {
		subject, err = templates.RenderString(subject, merged)
		if err != nil {
			return notification.Content{}, err
		}
	}
	return notification.Content{Subject: subject, Title: subject, Body: body}, nil
}
