package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	. "github.com/stevegt/goadapt"
)

// ResponseMode selects what a successful turn stores in the
// transcript.
type ResponseMode string

const (
	// ResponseRaw stores the whole response body.
	ResponseRaw ResponseMode = "raw"
	// ResponseMessage stores only choices[0].message.content.
	ResponseMessage ResponseMode = "message"
)

// Form holds the user's configuration inputs before validation.  The
// field names match the request fields of the completion API.
type Form struct {
	Model                  string       `toml:"model" json:"model"`
	Temperature            float64      `toml:"temperature" json:"temperature"`
	TopP                   float64      `toml:"top_p" json:"top_p"`
	TopK                   int          `toml:"top_k" json:"top_k"`
	FrequencyPenalty       float64      `toml:"frequency_penalty" json:"frequency_penalty"`
	PresencePenalty        float64      `toml:"presence_penalty" json:"presence_penalty"`
	MaxTokens              *int         `toml:"max_tokens" json:"max_tokens"`
	ReturnImages           bool         `toml:"return_images" json:"return_images"`
	ReturnRelatedQuestions bool         `toml:"return_related_questions" json:"return_related_questions"`
	Stream                 bool         `toml:"stream" json:"stream"`
	SearchRecencyFilter    string       `toml:"search_recency_filter" json:"search_recency_filter"`
	SearchDomainFilter     DomainFilter `toml:"search_domain_filter" json:"search_domain_filter"`
	SystemMessage          string       `toml:"system_message" json:"system_message"`
	ResponseMode           ResponseMode `toml:"response_mode" json:"response_mode"`
}

// Defaults returns the form as first shown to the user.
func Defaults() Form {
	maxTokens := 1024
	return Form{
		Model:               DefaultModel,
		Temperature:         0.2,
		TopP:                0.9,
		TopK:                0,
		FrequencyPenalty:    1,
		PresencePenalty:     0,
		MaxTokens:           &maxTokens,
		SearchRecencyFilter: "month",
		SearchDomainFilter:  DomainFilter{},
		ResponseMode:        ResponseRaw,
	}
}

// Clone returns a deep copy of the form.
func (f Form) Clone() Form {
	out := f
	if f.MaxTokens != nil {
		n := *f.MaxTokens
		out.MaxTokens = &n
	}
	out.SearchDomainFilter = f.SearchDomainFilter.Clone()
	return out
}

// setters maps each settable field name to its parser.
var setters = map[string]func(f *Form, v string) error{
	"model": func(f *Form, v string) error {
		f.Model = v
		return nil
	},
	"temperature": func(f *Form, v string) (err error) {
		f.Temperature, err = parseFloat(v)
		return
	},
	"top_p": func(f *Form, v string) (err error) {
		f.TopP, err = parseFloat(v)
		return
	},
	"top_k": func(f *Form, v string) (err error) {
		f.TopK, err = parseInt(v)
		return
	},
	"frequency_penalty": func(f *Form, v string) (err error) {
		f.FrequencyPenalty, err = parseFloat(v)
		return
	},
	"presence_penalty": func(f *Form, v string) (err error) {
		f.PresencePenalty, err = parseFloat(v)
		return
	},
	"max_tokens": func(f *Form, v string) error {
		if v == "" {
			f.MaxTokens = nil
			return nil
		}
		n, err := parseInt(v)
		if err != nil {
			return err
		}
		f.MaxTokens = &n
		return nil
	},
	"return_images": func(f *Form, v string) (err error) {
		f.ReturnImages, err = parseBool(v)
		return
	},
	"return_related_questions": func(f *Form, v string) (err error) {
		f.ReturnRelatedQuestions, err = parseBool(v)
		return
	},
	"stream": func(f *Form, v string) (err error) {
		f.Stream, err = parseBool(v)
		return
	},
	"search_recency_filter": func(f *Form, v string) error {
		f.SearchRecencyFilter = v
		return nil
	},
	"search_domain_filter": func(f *Form, v string) error {
		d := DomainFilter{}
		for _, e := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			d.Add(e)
		}
		f.SearchDomainFilter = d
		return nil
	},
	"system_message": func(f *Form, v string) error {
		f.SystemMessage = v
		return nil
	},
	"response_mode": func(f *Form, v string) error {
		f.ResponseMode = ResponseMode(v)
		return nil
	},
}

// Fields returns the names accepted by Set, sorted.
func Fields() (names []string) {
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Set assigns a field from its string form, as typed into a form or
// a REPL.  Surrounding whitespace is ignored except in the system
// message.  An empty value unsets max_tokens and
// search_recency_filter.  Range checks are left to Build.
func (f *Form) Set(field, value string) error {
	field = strings.TrimSpace(field)
	setter, ok := setters[field]
	if !ok {
		return ValidationErrors{{Field: field, Message: "unknown field"}}
	}
	if field != "system_message" {
		value = strings.TrimSpace(value)
	}
	err := setter(f, value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: err.Error()}}
	}
	return nil
}

// LoadForm reads a TOML settings file on top of Defaults.  Keys the
// form does not know are reported as an error so that typos don't
// silently fall back to defaults.  Because TOML has no null,
// max_tokens = 0 in a settings file means unset.
func LoadForm(path string) (form Form, err error) {
	defer Return(&err)
	form = Defaults()
	md, err := toml.DecodeFile(path, &form)
	Ck(err, "reading settings file %s", path)
	undecoded := md.Undecoded()
	if len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		err = fmt.Errorf("%s: unknown settings: %s", path, strings.Join(keys, ", "))
		return
	}
	if form.MaxTokens != nil && *form.MaxTokens == 0 {
		form.MaxTokens = nil
	}
	if form.SearchDomainFilter == nil {
		form.SearchDomainFilter = DomainFilter{}
	}
	Debug("loaded settings from %s: %s", path, Spprint(form))
	return
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", v)
	}
	return f, nil
}

func parseInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", v)
	}
	return n, nil
}

func parseBool(v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%q is not true or false", v)
	}
	return b, nil
}
