package config

import (
	"fmt"
	"sort"
)

var DefaultModel = "sonar"

// Model is a type for model name and characteristics
type Model struct {
	Name       string
	TokenLimit int
	// Reasoning models include their chain of thought in the
	// response body.
	Reasoning bool
}

func (m *Model) String() string {
	kind := "search"
	if m.Reasoning {
		kind = "reasoning"
	}
	return fmt.Sprintf("%-22s %-10s tokens: %d", m.Name, kind, m.TokenLimit)
}

// Models is a type that manages the set of available models.
type Models struct {
	// The list of available models.
	Available map[string]*Model
}

// NewModels creates a new Models object.
func NewModels() (models *Models) {
	models = &Models{}
	models.Available = make(map[string]*Model)
	add := func(name string, tokenLimit int, reasoning bool) {
		m := &Model{
			Name:       name,
			TokenLimit: tokenLimit,
			Reasoning:  reasoning,
		}
		models.Available[name] = m
	}

	add("sonar", 127072, false)
	add("sonar-pro", 200000, false)
	add("sonar-reasoning", 127072, true)
	add("sonar-reasoning-pro", 127072, true)
	add("sonar-deep-research", 127072, true)

	return
}

// FindModel returns the model name and object given a model name.
// if the given model name is empty, then use DefaultModel.
func (models *Models) FindModel(model string) (name string, m *Model, err error) {
	if model == "" {
		model = DefaultModel
	}
	m, ok := models.Available[model]
	if !ok {
		err = fmt.Errorf("model %q not found", model)
		return
	}
	name = model
	return
}

// ListModels returns a list of available models sorted by name.
func (models *Models) ListModels() (list []*Model) {
	for _, m := range models.Available {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return
}

var registry = NewModels()

// FindModel looks up a model in the default registry.
func FindModel(model string) (name string, m *Model, err error) {
	return registry.FindModel(model)
}

// ListModels lists the default registry.
func ListModels() []*Model {
	return registry.ListModels()
}
