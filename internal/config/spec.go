package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/velistar/treepatch/internal/patch"
)

// BuildSpec is the YAML description of a patch build.
type BuildSpec struct {
	Old      string   `yaml:"old"`
	New      string   `yaml:"new"`
	Strict   bool     `yaml:"strict"`
	Critical []string `yaml:"critical"`
	Optional []string `yaml:"optional"`
	Ignored  []string `yaml:"ignored"`
}

// LoadBuildSpec reads and parses a build-spec file.
func LoadBuildSpec(path string) (*BuildSpec, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var spec BuildSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec for required fields.
func (s *BuildSpec) Validate() error {
	if s.Old == "" {
		return fmt.Errorf("spec file: old tree path is required")
	}
	if s.New == "" {
		return fmt.Errorf("spec file: new tree path is required")
	}
	return nil
}

// PatchSpec converts the file form into the engine's build spec.
func (s *BuildSpec) PatchSpec() *patch.Spec {
	return &patch.Spec{
		OldRoot:       s.Old,
		NewRoot:       s.New,
		Strict:        s.Strict,
		CriticalPaths: s.Critical,
		OptionalPaths: s.Optional,
		IgnoredPaths:  s.Ignored,
	}
}
