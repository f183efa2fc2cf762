// Package reference loads the static tables the recommender scores against:
// target profiles per age bucket, the concept alias table and the anchor
// phrases the text analyzer compares free text with.
package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pbaille/reads/internal/domain"
)

//go:embed reference.yaml
var builtin []byte

// ErrInvalid reports a reference file that violates a range or shape rule
var ErrInvalid = errors.New("invalid reference data")

// Data is the full set of reference tables
type Data struct {
	Targets domain.TargetTable  `yaml:"targets"`
	Aliases domain.AliasTable   `yaml:"aliases"`
	Anchors map[string][]string `yaml:"anchors"`
}

// Tables returns the part of the data the scoring engine needs
func (d *Data) Tables() domain.Tables {
	return domain.Tables{Targets: d.Targets, Aliases: d.Aliases}
}

// AnchorConcepts returns the concepts that have anchor phrases, sorted
func (d *Data) AnchorConcepts() []string {
	out := make([]string, 0, len(d.Anchors))
	for c := range d.Anchors {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Builtin returns the tables compiled into the binary
func Builtin() (*Data, error) {
	return Parse(builtin)
}

// Load reads the tables from path, or the builtin tables when path is empty
func Load(path string) (*Data, error) {
	if path == "" {
		return Builtin()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference file: %w", err)
	}
	d, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes and validates YAML reference data
func Parse(raw []byte) (*Data, error) {
	var d Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse reference yaml: %w", err)
	}
	if d.Targets == nil {
		d.Targets = domain.TargetTable{}
	}
	if d.Aliases == nil {
		d.Aliases = domain.AliasTable{}
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Data) validate() error {
	for age, target := range d.Targets {
		for c, w := range target {
			if math.IsNaN(w) || w < 0 || w > 1 {
				return fmt.Errorf("target %s: concept %q weight %v outside [0,1]: %w", age, c, w, ErrInvalid)
			}
		}
	}
	for core, aliases := range d.Aliases {
		for alias, coef := range aliases {
			if math.IsNaN(coef) || coef <= 0 || coef > 1 {
				return fmt.Errorf("alias %s->%s: coefficient %v outside (0,1]: %w", core, alias, coef, ErrInvalid)
			}
		}
	}
	for c, phrases := range d.Anchors {
		if len(phrases) == 0 {
			return fmt.Errorf("anchors %q: no phrases: %w", c, ErrInvalid)
		}
	}
	return nil
}
