package templates

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/notify/pkg/notification"
)

// Engine manages versioned templates and renders them with runtime data.
type Engine struct {
	storage Storage
	cache   *astCache
	logger  *slog.Logger
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger for the Engine.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCacheCapacity bounds the compiled-template cache.
func WithCacheCapacity(capacity int) EngineOption {
	return func(e *Engine) {
		e.cache = newASTCache(capacity)
	}
}

// NewEngine creates a template engine backed by the given storage.
func NewEngine(storage Storage, opts ...EngineOption) (*Engine, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}

	e := &Engine{
		storage: storage,
		cache:   newASTCache(128),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateTemplateParams carries everything needed to create a template
// version. Version and status are managed by the engine, not the caller.
type CreateTemplateParams struct {
	Name     string                `json:"name"`
	Category notification.Category `json:"category"`
	Locale   string                `json:"locale"`

	Subject      string `json:"subject,omitempty"`
	HTMLTemplate string `json:"html_template,omitempty"`
	TextTemplate string `json:"text_template"`
	SMSTemplate  string `json:"sms_template,omitempty"`
	PushTemplate string `json:"push_template,omitempty"`

	Variables []Variable        `json:"variables,omitempty"`
	IsDefault bool              `json:"is_default"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Create stores a new template version. If an active template already
// exists for the (category, locale) pair it is archived and the new
// version becomes old.Version+1; otherwise the version is 1. A new
// default first unseats any other default for the pair.
func (e *Engine) Create(ctx context.Context, params CreateTemplateParams) (*Template, error) {
	locale := NormalizeLocale(params.Locale)

	active, err := e.storage.FindActive(ctx, params.Category, locale)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active templates for (%s, %s): %w", params.Category, locale, err)
	}

	version := 1
	for _, old := range active {
		if old.Version >= version {
			version = old.Version + 1
		}
		old.Status = StatusArchived
		old.IsDefault = false
		if err := e.storage.Update(ctx, old); err != nil {
			return nil, fmt.Errorf("failed to archive template %s: %w", old.ID, err)
		}
		e.cache.invalidate(old.ID)
	}

	if params.IsDefault {
		if err := e.unsetDefaults(ctx, params.Category, locale, ""); err != nil {
			return nil, err
		}
	}

	tpl := Template{
		ID:           uuid.New().String(),
		Name:         params.Name,
		Category:     params.Category,
		Locale:       locale,
		Version:      version,
		Status:       StatusActive,
		Subject:      params.Subject,
		HTMLTemplate: params.HTMLTemplate,
		TextTemplate: params.TextTemplate,
		SMSTemplate:  params.SMSTemplate,
		PushTemplate: params.PushTemplate,
		Variables:    params.Variables,
		IsDefault:    params.IsDefault,
		Metadata:     params.Metadata,
		CreatedAt:    e.now(),
	}
	if err := e.storage.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to store template %q: %w", params.Name, err)
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "template created",
		slog.String("template_id", tpl.ID),
		slog.String("category", string(tpl.Category)),
		slog.String("locale", tpl.Locale),
		slog.Int("version", tpl.Version))

	return &tpl, nil
}

// unsetDefaults clears the default flag on every other template of the
// (category, locale) pair, preserving the invariant of at most one default.
func (e *Engine) unsetDefaults(ctx context.Context, category notification.Category, locale, exceptID string) error {
	all, err := e.storage.List(ctx, ListOptions{Category: category, Locale: locale})
	if err != nil {
		return fmt.Errorf("failed to list templates for (%s, %s): %w", category, locale, err)
	}
	for _, tpl := range all {
		if tpl.ID == exceptID || !tpl.IsDefault {
			continue
		}
		tpl.IsDefault = false
		if err := e.storage.Update(ctx, tpl); err != nil {
			return fmt.Errorf("failed to unset default on template %s: %w", tpl.ID, err)
		}
		e.cache.invalidate(tpl.ID)
	}
	return nil
}

// GetByID returns a template by id.
func (e *Engine) GetByID(ctx context.Context, id string) (*Template, error) {
	return e.storage.GetByID(ctx, id)
}

// GetByCategory finds the template to use for a (category, locale) pair:
// the active default first, then the highest active version, then the same
// lookup under the "en" locale. Returns ErrTemplateNotFound when nothing
// matches even in the base locale.
func (e *Engine) GetByCategory(ctx context.Context, category notification.Category, locale string) (*Template, error) {
	locale = NormalizeLocale(locale)

	active, err := e.storage.FindActive(ctx, category, locale)
	if err != nil {
		return nil, fmt.Errorf("failed to look up templates for (%s, %s): %w", category, locale, err)
	}

	for i := range active {
		if active[i].IsDefault {
			return &active[i], nil
		}
	}
	if len(active) > 0 {
		// FindActive sorts newest version first.
		return &active[0], nil
	}

	if locale != DefaultLocale {
		return e.GetByCategory(ctx, category, DefaultLocale)
	}
	return nil, ErrTemplateNotFound
}

// Rendered is the output of rendering a template.
type Rendered struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Render renders the template's body for the requested format with the
// given data. Declared variables are validated first, after defaults are
// applied; an invalid data map returns a *ValidationError wrapping
// ErrValidationFailed. The body falls back to the text template when no
// channel-specific body exists. Unresolved {{key}} tokens are left as
// literal text; {{#if}}/{{#unless}} blocks are evaluated against the data
// map and may nest.
func (e *Engine) Render(ctx context.Context, templateID string, data map[string]any, format Format) (*Rendered, error) {
	tpl, err := e.storage.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	data = applyDefaults(tpl.Variables, data)

	if errs := validateData(tpl.Variables, data); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	body, err := e.renderCached(tpl, format, data)
	if err != nil {
		return nil, err
	}

	subject := tpl.Subject
	if subject != "" {
		if subject, err = RenderString(subject, data); err != nil {
			return nil, fmt.Errorf("failed to render subject of template %s: %w", templateID, err)
		}
	}

	return &Rendered{Subject: subject, Body: body}, nil
}

func (e *Engine) renderCached(tpl *Template, format Format, data map[string]any) (string, error) {
	key := astKey{templateID: tpl.ID, format: format}
	nodes, ok := e.cache.get(key)
	if !ok {
		var err error
		nodes, err = Parse(tpl.Body(format))
		if err != nil {
			return "", fmt.Errorf("failed to parse template %s (%s): %w", tpl.ID, format, err)
		}
		e.cache.put(key, nodes)
	}
	return render(nodes, data), nil
}

// applyDefaults fills declared variable defaults for keys absent from the
// data map. The caller's map is not mutated.
func applyDefaults(vars []Variable, data map[string]any) map[string]any {
	var withDefaults map[string]any
	for _, v := range vars {
		if v.Default == nil {
			continue
		}
		if _, ok := data[v.Name]; ok {
			continue
		}
		if withDefaults == nil {
			withDefaults = make(map[string]any, len(data)+len(vars))
			for k, val := range data {
				withDefaults[k] = val
			}
		}
		withDefaults[v.Name] = v.Default
	}
	if withDefaults != nil {
		return withDefaults
	}
	return data
}

// ValidationResult reports the outcome of variable validation.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// ValidateVariables checks the data map against the template's declared
// variables: a missing value is an error when the variable is required
// and has no default; a present value of the wrong declared type is
// always an error.
func (e *Engine) ValidateVariables(ctx context.Context, templateID string, data map[string]any) (*ValidationResult, error) {
	tpl, err := e.storage.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	errs := validateData(tpl.Variables, data)
	return &ValidationResult{IsValid: len(errs) == 0, Errors: errs}, nil
}

func validateData(vars []Variable, data map[string]any) []string {
	var errs []string
	for _, v := range vars {
		value, ok := data[v.Name]
		if !ok {
			if v.Required && v.Default == nil {
				errs = append(errs, fmt.Sprintf("missing required variable %q", v.Name))
			}
			continue
		}
		if msg := checkVariableType(v, value); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

func checkVariableType(v Variable, value any) string {
	switch v.Type {
	case VariableString:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("variable %q must be a string, got %T", v.Name, value)
		}
	case VariableNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Sprintf("variable %q must be a number, got %T", v.Name, value)
		}
	case VariableBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("variable %q must be a boolean, got %T", v.Name, value)
		}
	case VariableDate:
		switch val := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, val); err != nil {
				return fmt.Sprintf("variable %q must be an RFC 3339 date, got %q", v.Name, val)
			}
		default:
			return fmt.Sprintf("variable %q must be a date, got %T", v.Name, value)
		}
	case VariableURL:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("variable %q must be a URL string, got %T", v.Name, value)
		}
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Sprintf("variable %q must be an absolute URL, got %q", v.Name, s)
		}
	}
	return ""
}

// Duplicate copies a template's content into a new version under a new
// name, going through Create so the usual versioning rules apply (the
// current active version of the pair is archived). Useful as a starting
// point for edits.
func (e *Engine) Duplicate(ctx context.Context, id, newName string) (*Template, error) {
	src, err := e.storage.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return e.Create(ctx, CreateTemplateParams{
		Name:         newName,
		Category:     src.Category,
		Locale:       src.Locale,
		Subject:      src.Subject,
		HTMLTemplate: src.HTMLTemplate,
		TextTemplate: src.TextTemplate,
		SMSTemplate:  src.SMSTemplate,
		PushTemplate: src.PushTemplate,
		Variables:    src.Variables,
		Metadata:     src.Metadata,
	})
}

// Archive retires a template. Templates are never hard-deleted, and the
// default template of a pair cannot be archived while it holds the flag.
func (e *Engine) Archive(ctx context.Context, id string) error {
	tpl, err := e.storage.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if tpl.IsDefault {
		return ErrDefaultTemplate
	}
	if tpl.Status == StatusArchived {
		return nil
	}

	tpl.Status = StatusArchived
	if err := e.storage.Update(ctx, *tpl); err != nil {
		return fmt.Errorf("failed to archive template %s: %w", id, err)
	}
	e.cache.invalidate(id)
	return nil
}

// SetDefault marks a template as the default for its (category, locale)
// pair, unseating any previous default.
func (e *Engine) SetDefault(ctx context.Context, id string) error {
	tpl, err := e.storage.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := e.unsetDefaults(ctx, tpl.Category, tpl.Locale, tpl.ID); err != nil {
		return err
	}
	if tpl.IsDefault {
		return nil
	}
	tpl.IsDefault = true
	if err := e.storage.Update(ctx, *tpl); err != nil {
		return fmt.Errorf("failed to set default on template %s: %w", id, err)
	}
	e.cache.invalidate(id)
	return nil
}

// List returns templates matching the options.
func (e *Engine) List(ctx context.Context, opts ListOptions) ([]Template, error) {
	return e.storage.List(ctx, opts)
}
