package twig

import (
	"errors"
	"fmt"
	"io"
	"os"

	v "github.com/neurodesk/twig/pkg/validator"
	"gopkg.in/yaml.v3"
)

// Options is the environment configuration, usually read from a YAML file.
type Options struct {
	// StrictVariables makes undefined variables and attributes errors.
	StrictVariables bool `yaml:"strict_variables"`
	// StrictTypes makes comparisons and arithmetic on mismatched types
	// errors.
	StrictTypes bool `yaml:"strict_types"`
	// Debug enables the dump function and logs generated source.
	Debug bool `yaml:"debug"`
	// TemplateDirs are searched in order when no loader is given.
	TemplateDirs []string `yaml:"template_dirs"`
	// Autoescape is the escaping strategy applied to every print statement,
	// or empty for none.
	Autoescape string `yaml:"autoescape"`
}

var _ v.Validatable = Options{}

var autoescapeStrategies = []string{"", "html", "url"}

func (o Options) Validate() error {
	return v.All(
		v.Map(o.TemplateDirs, v.NotEmpty, "template_dirs"),
		v.NoDuplicates(o.TemplateDirs, "template_dirs"),
		v.MatchesAllowed(o.Autoescape, autoescapeStrategies, "autoescape"),
	)
}

// ParseOptions decodes and validates options. Unknown keys are errors.
func ParseOptions(r io.Reader) (Options, error) {
	var o Options
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("failed to decode options: %w", err)
	}
	if err := o.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return o, nil
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to open options: %w", err)
	}
	defer f.Close()
	o, err := ParseOptions(f)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}
