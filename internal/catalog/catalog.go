package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"wowmeta/aggregator/internal/models"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Catalog is the set of class/spec pairs and encounters a cycle covers
type Catalog struct {
	Specs      []models.ClassSpec `koanf:"specs"`
	Encounters []models.Encounter `koanf:"encounters"`
}

// Filter restricts a catalog to some encounters and classes. Empty fields
// select everything.
type Filter struct {
	EncounterIDs []int
	ClassNames   []string
}

// LoadFile reads a YAML catalog:
//
//	specs:
//	  - {class: Paladin, spec: Holy, role: healer}
//	encounters:
//	  - {id: 2902, name: Ulgrax the Devourer, kind: raid}
func LoadFile(path string) (*Catalog, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}

	var c Catalog
	if err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks that every entry is usable and unique
func (c *Catalog) Validate() error {
	if len(c.Specs) == 0 {
		return errors.New("catalog has no specs")
	}
	if len(c.Encounters) == 0 {
		return errors.New("catalog has no encounters")
	}

	seenSpec := make(map[string]bool, len(c.Specs))
	for _, s := range c.Specs {
		if s.ClassName == "" || s.SpecName == "" {
			return fmt.Errorf("spec entry without class or spec name: %+v", s)
		}
		if !s.Role.Valid() {
			return fmt.Errorf("spec %s %s has unknown role %q", s.ClassName, s.SpecName, s.Role)
		}
		k := s.ClassName + "/" + s.SpecName
		if seenSpec[k] {
			return fmt.Errorf("duplicate spec %s", k)
		}
		seenSpec[k] = true
	}

	seenEnc := make(map[int]bool, len(c.Encounters))
	for _, e := range c.Encounters {
		if e.ID <= 0 {
			return fmt.Errorf("encounter %q has no id", e.Name)
		}
		if e.Kind != models.KindDungeon && e.Kind != models.KindRaid {
			return fmt.Errorf("encounter %d has unknown kind %q", e.ID, e.Kind)
		}
		if seenEnc[e.ID] {
			return fmt.Errorf("duplicate encounter %d", e.ID)
		}
		seenEnc[e.ID] = true
	}
	return nil
}

// Apply returns a copy of the catalog narrowed by f
func (c *Catalog) Apply(f Filter) *Catalog {
	out := &Catalog{}
	for _, s := range c.Specs {
		if len(f.ClassNames) == 0 || slices.ContainsFunc(f.ClassNames, func(n string) bool { return strings.EqualFold(n, s.ClassName) }) {
			out.Specs = append(out.Specs, s)
		}
	}
	for _, e := range c.Encounters {
		if len(f.EncounterIDs) == 0 || slices.Contains(f.EncounterIDs, e.ID) {
			out.Encounters = append(out.Encounters, e)
		}
	}
	return out
}

// Selectors returns the bracket selectors that apply to an encounter
func Selectors(e models.Encounter, threshold int) []models.BracketSelector {
	if e.Kind == models.KindDungeon {
		return []models.BracketSelector{models.LowBracket(threshold), models.HighBracket(threshold)}
	}
	return []models.BracketSelector{models.NoBracket()}
}

// BuildTasks expands the catalog into every spec × encounter × selector tuple
func (c *Catalog) BuildTasks(threshold int) []models.Task {
	var tasks []models.Task
	for _, e := range c.Encounters {
		selectors := Selectors(e, threshold)
		for _, s := range c.Specs {
			for _, sel := range selectors {
				tasks = append(tasks, models.Task{ClassSpec: s, Encounter: e, Selector: sel})
			}
		}
	}
	return tasks
}
