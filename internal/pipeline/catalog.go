package pipeline

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStage is returned when a job names a stage the catalog lacks.
var ErrUnknownStage = errors.New("unknown stage")

// Input declares one parameter a stage consumes.
type Input struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
	// Fallback names the upstream stage whose output supplies the field in
	// chained jobs.
	Fallback string `yaml:"fallback"`
	// FallbackField renames the field looked up in the fallback stage output.
	FallbackField string `yaml:"fallback_field"`
}

// SourceField returns the output field read from the fallback stage.
func (in Input) SourceField() string {
	if in.FallbackField != "" {
		return in.FallbackField
	}
	return in.Name
}

// Worker describes how a stage's worker is reached. Exactly one of Command or
// URL is set.
type Worker struct {
	Command []string          `yaml:"command"`
	URL     string            `yaml:"url"`
	Env     map[string]string `yaml:"env"`
}

// Stage is one catalog entry.
type Stage struct {
	Name           string   `yaml:"name"`
	RequiresGPU    bool     `yaml:"requires_gpu"`
	TimeoutSeconds int      `yaml:"timeout"`
	Worker         Worker   `yaml:"worker"`
	Inputs         []Input  `yaml:"inputs"`
	CacheFields    []string `yaml:"cache_fields"`
	ReuseFields    []string `yaml:"reuse_fields"`
	Artifacts      []string `yaml:"artifacts"`
	SkipSync       []string `yaml:"skip_sync"`
	DisableSync    bool     `yaml:"disable_sync"`
	RequireRemote  bool     `yaml:"require_remote"`
}

// Timeout returns the stage worker deadline, or fallback when unset.
func (s *Stage) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return fallback
}

// Cacheable reports whether the stage participates in result reuse.
func (s *Stage) Cacheable() bool {
	return len(s.CacheFields) > 0
}

// Input returns the declared input by name.
func (s *Stage) Input(name string) (Input, bool) {
	for _, in := range s.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Catalog is the parsed pipeline file.
type Catalog struct {
	Stages []Stage `yaml:"stages"`

	index map[string]int
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if err := catalog.normalize(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Load reads the catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	return Parse(data)
}

// New builds a catalog from in-memory definitions.
func New(stages ...Stage) (*Catalog, error) {
	catalog := &Catalog{Stages: stages}
	if err := catalog.normalize(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) normalize() error {
	c.index = make(map[string]int, len(c.Stages))
	for i := range c.Stages {
		stage := &c.Stages[i]
		stage.Name = strings.TrimSpace(stage.Name)
		if stage.Name == "" {
			return fmt.Errorf("pipeline: stage %d has no name", i)
		}
		if _, dup := c.index[stage.Name]; dup {
			return fmt.Errorf("pipeline: duplicate stage %q", stage.Name)
		}
		c.index[stage.Name] = i
		hasCommand := len(stage.Worker.Command) > 0
		hasURL := strings.TrimSpace(stage.Worker.URL) != ""
		if hasCommand == hasURL {
			return fmt.Errorf("pipeline: stage %q needs exactly one of worker.command or worker.url", stage.Name)
		}
		if stage.TimeoutSeconds < 0 {
			return fmt.Errorf("pipeline: stage %q timeout must be positive", stage.Name)
		}
		if len(stage.ReuseFields) == 0 {
			stage.ReuseFields = append([]string(nil), stage.Artifacts...)
		}
	}
	for _, stage := range c.Stages {
		seen := make(map[string]struct{}, len(stage.Inputs))
		for _, in := range stage.Inputs {
			if in.Name == "" {
				return fmt.Errorf("pipeline: stage %q declares an unnamed input", stage.Name)
			}
			if _, dup := seen[in.Name]; dup {
				return fmt.Errorf("pipeline: stage %q declares input %q twice", stage.Name, in.Name)
			}
			seen[in.Name] = struct{}{}
			if in.Fallback == "" {
				continue
			}
			if in.Fallback == stage.Name {
				return fmt.Errorf("pipeline: stage %q input %q falls back to itself", stage.Name, in.Name)
			}
			if _, ok := c.index[in.Fallback]; !ok {
				return fmt.Errorf("pipeline: stage %q input %q falls back to %w %q", stage.Name, in.Name, ErrUnknownStage, in.Fallback)
			}
		}
	}
	return nil
}

// Stage looks up a stage definition.
func (c *Catalog) Stage(name string) (*Stage, error) {
	if c != nil {
		if i, ok := c.index[name]; ok {
			return &c.Stages[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
}

// Names returns the catalog stage names sorted alphabetically.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Stages))
	for _, stage := range c.Stages {
		names = append(names, stage.Name)
	}
	sort.Strings(names)
	return names
}

// ValidateChain checks that every stage exists and that fallbacks within the
// chain point at stages scheduled earlier.
func (c *Catalog) ValidateChain(stages []string) error {
	position := make(map[string]int, len(stages))
	for i, name := range stages {
		if _, err := c.Stage(name); err != nil {
			return err
		}
		position[name] = i
	}
	for i, name := range stages {
		stage, _ := c.Stage(name)
		for _, in := range stage.Inputs {
			if in.Fallback == "" {
				continue
			}
			if pos, ok := position[in.Fallback]; ok && pos > i {
				return fmt.Errorf("pipeline: stage %q input %q falls back to %q which runs later", name, in.Name, in.Fallback)
			}
		}
	}
	return nil
}
