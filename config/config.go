package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stevegt/sonarchat/client"
	"github.com/stevegt/sonarchat/util"
)

// RecencyFilters are the accepted search_recency_filter values.  The
// empty string means no filter.
var RecencyFilters = []string{"day", "week", "month", "year"}

// Config is a validated configuration.  Its JSON encoding is the set
// of request parameters sent with every turn.  Only Build creates a
// Config; treat it as read-only afterwards.
type Config struct {
	Model                  string   `json:"model"`
	Temperature            float64  `json:"temperature"`
	TopP                   float64  `json:"top_p"`
	TopK                   int      `json:"top_k"`
	FrequencyPenalty       float64  `json:"frequency_penalty"`
	PresencePenalty        float64  `json:"presence_penalty"`
	MaxTokens              *int     `json:"max_tokens,omitempty"`
	ReturnImages           bool     `json:"return_images"`
	ReturnRelatedQuestions bool     `json:"return_related_questions"`
	Stream                 bool     `json:"stream"`
	SearchRecencyFilter    string   `json:"search_recency_filter,omitempty"`
	SearchDomainFilter     []string `json:"search_domain_filter"`

	// SystemMessage seeds the transcript.  It is sent as the first
	// message, not as a request parameter.
	SystemMessage string `json:"-"`
	// ResponseMode is a client-side display choice.
	ResponseMode ResponseMode `json:"-"`
}

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned by Build and Form.Set.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	var parts []string
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// ByField returns the messages for one field.
func (v ValidationErrors) ByField(field string) (msgs []string) {
	for _, fe := range v {
		if fe.Field == field {
			msgs = append(msgs, fe.Message)
		}
	}
	return
}

func (v *ValidationErrors) add(field, format string, args ...interface{}) {
	*v = append(*v, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Build validates a form and returns the Config it describes.  On
// failure the error is a ValidationErrors naming every offending
// field.  Build has no side effects.
func Build(f Form) (cfg *Config, err error) {
	var errs ValidationErrors

	if f.Model == "" {
		errs.add("model", "a model is required")
	} else if _, _, e := FindModel(f.Model); e != nil {
		errs.add("model", "unknown model %q", f.Model)
	}
	if !util.InRange(f.Temperature, 0, 2) {
		errs.add("temperature", "must be between 0 and 2")
	}
	if !util.InRange(f.TopP, 0, 1) {
		errs.add("top_p", "must be between 0 and 1")
	}
	if f.TopK < 0 || f.TopK > 2048 {
		errs.add("top_k", "must be between 0 and 2048")
	}
	if !util.Finite(f.FrequencyPenalty) || f.FrequencyPenalty < 0 {
		errs.add("frequency_penalty", "must be 0 or greater")
	}
	if !util.InRange(f.PresencePenalty, -2, 2) {
		errs.add("presence_penalty", "must be between -2 and 2")
	}
	if f.MaxTokens != nil && (*f.MaxTokens < 1 || *f.MaxTokens > 4096) {
		errs.add("max_tokens", "must be between 1 and 4096, or unset")
	}
	if f.SearchRecencyFilter != "" && !util.StringInSlice(f.SearchRecencyFilter, RecencyFilters) {
		errs.add("search_recency_filter", "must be one of %s, or unset", strings.Join(RecencyFilters, ", "))
	}
	for _, msg := range f.SearchDomainFilter.problems() {
		errs.add("search_domain_filter", "%s", msg)
	}
	mode := f.ResponseMode
	if mode == "" {
		mode = ResponseRaw
	}
	if mode != ResponseRaw && mode != ResponseMessage {
		errs.add("response_mode", "must be %s or %s", ResponseRaw, ResponseMessage)
	}

	if len(errs) > 0 {
		err = errs
		return
	}

	cfg = &Config{
		Model:                  f.Model,
		Temperature:            f.Temperature,
		TopP:                   f.TopP,
		TopK:                   f.TopK,
		FrequencyPenalty:       f.FrequencyPenalty,
		PresencePenalty:        f.PresencePenalty,
		ReturnImages:           f.ReturnImages,
		ReturnRelatedQuestions: f.ReturnRelatedQuestions,
		Stream:                 f.Stream,
		SearchRecencyFilter:    f.SearchRecencyFilter,
		SearchDomainFilter:     []string(f.SearchDomainFilter.Clone()),
		SystemMessage:          f.SystemMessage,
		ResponseMode:           mode,
	}
	if f.MaxTokens != nil {
		n := *f.MaxTokens
		cfg.MaxTokens = &n
	}
	return
}

// Form returns the inputs that would Build this config.
func (c *Config) Form() Form {
	f := Form{
		Model:                  c.Model,
		Temperature:            c.Temperature,
		TopP:                   c.TopP,
		TopK:                   c.TopK,
		FrequencyPenalty:       c.FrequencyPenalty,
		PresencePenalty:        c.PresencePenalty,
		ReturnImages:           c.ReturnImages,
		ReturnRelatedQuestions: c.ReturnRelatedQuestions,
		Stream:                 c.Stream,
		SearchRecencyFilter:    c.SearchRecencyFilter,
		SearchDomainFilter:     DomainFilter(c.SearchDomainFilter).Clone(),
		SystemMessage:          c.SystemMessage,
		ResponseMode:           c.ResponseMode,
	}
	if c.MaxTokens != nil {
		n := *c.MaxTokens
		f.MaxTokens = &n
	}
	return f
}

// TokenLimit returns the context size of the configured model.
func (c *Config) TokenLimit() int {
	_, m, err := FindModel(c.Model)
	if err != nil {
		return 0
	}
	return m.TokenLimit
}

type request struct {
	*Config
	Messages []client.ChatMsg `json:"messages"`
}

// RequestBody returns the JSON body for one turn: every request
// parameter of the config alongside the given messages.
func (c *Config) RequestBody(msgs []client.ChatMsg) (body []byte, err error) {
	cp := *c
	if cp.SearchDomainFilter == nil {
		cp.SearchDomainFilter = []string{}
	}
	if msgs == nil {
		msgs = []client.ChatMsg{}
	}
	return json.Marshal(request{Config: &cp, Messages: msgs})
}
