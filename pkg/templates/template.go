package templates

import (
	"time"

	"golang.org/x/text/language"

	"github.com/coursekit/notify/pkg/notification"
)

// Status represents the template lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Format selects which per-channel body of a template to render.
type Format string

const (
	FormatHTML Format = "html"
	FormatText Format = "text"
	FormatSMS  Format = "sms"
	FormatPush Format = "push"
)

// FormatForChannel maps a delivery channel to its preferred template format.
func FormatForChannel(ch notification.Channel) Format {
	switch ch {
	case notification.ChannelEmail:
		return FormatHTML
	case notification.ChannelSMS:
		return FormatSMS
	case notification.ChannelPush:
		return FormatPush
	default:
		return FormatText
	}
}

// VariableType is the declared type of a template variable.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableNumber  VariableType = "number"
	VariableBoolean VariableType = "boolean"
	VariableDate    VariableType = "date"
	VariableURL     VariableType = "url"
)

// Variable declares one substitution slot of a template.
type Variable struct {
	Name     string       `json:"name" yaml:"name"`
	Type     VariableType `json:"type" yaml:"type"`
	Required bool         `json:"required" yaml:"required"`
	Default  any          `json:"default,omitempty" yaml:"default,omitempty"`
}

// DefaultLocale is the locale every lookup ultimately falls back to.
const DefaultLocale = "en"

// Template is a versioned, localized content blueprint. Versions are
// append-only: creating a new template for a (category, locale) pair
// archives the previous active version, it never mutates it.
type Template struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Category notification.Category `json:"category"`
	Locale   string                `json:"locale"`
	Version  int                   `json:"version"`
	Status   Status                `json:"status"`

	Subject      string `json:"subject,omitempty"`
	HTMLTemplate string `json:"html_template,omitempty"`
	TextTemplate string `json:"text_template"`
	SMSTemplate  string `json:"sms_template,omitempty"`
	PushTemplate string `json:"push_template,omitempty"`

	Variables []Variable        `json:"variables,omitempty"`
	IsDefault bool              `json:"is_default"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Body returns the raw template body for the requested format, falling
// back to the text body when the channel-specific body is absent.
func (t *Template) Body(format Format) string {
	switch format {
	case FormatHTML:
		if t.HTMLTemplate != "" {
			return t.HTMLTemplate
		}
	case FormatSMS:
		if t.SMSTemplate != "" {
			return t.SMSTemplate
		}
	case FormatPush:
		if t.PushTemplate != "" {
			return t.PushTemplate
		}
	}
	return t.TextTemplate
}

// NormalizeLocale canonicalizes a locale tag to its base language
// ("en-US" → "en"). Unparseable locales fall back to the default.
func NormalizeLocale(locale string) string {
	if locale == "" {
		return DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return DefaultLocale
	}
	base, _ := tag.Base()
	return base.String()
}
