package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a plan file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported plan file extension %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Rewrite is a find/replace applied to a file before any process starts.
type Rewrite struct {
	File    string
	Find    string
	Replace string
}

// File is a loaded plan with its launch settings.
type File struct {
	Path     string
	Shell    []string
	Dir      string
	Vars     map[string]string
	Flags    map[string]string
	Rewrites []Rewrite
	Steps    []Step
}

type rawFile struct {
	Shell    []string          `yaml:"shell" toml:"shell"`
	Dir      string            `yaml:"dir" toml:"dir"`
	Vars     map[string]string `yaml:"vars" toml:"vars"`
	Flags    map[string]string `yaml:"flags" toml:"flags"`
	Rewrites []rawRewrite      `yaml:"rewrites" toml:"rewrites"`
	Steps    []rawStep         `yaml:"steps" toml:"steps"`
}

type rawRewrite struct {
	File    string `yaml:"file" toml:"file"`
	Find    string `yaml:"find" toml:"find"`
	Replace string `yaml:"replace" toml:"replace"`
}

type rawStep struct {
	Name    string    `yaml:"name" toml:"name"`
	Expect  string    `yaml:"expect" toml:"expect"`
	Command string    `yaml:"command" toml:"command"`
	Success any       `yaml:"success" toml:"success"`
	Error   any       `yaml:"error" toml:"error"`
	When    string    `yaml:"when" toml:"when"`
	Shell   []string  `yaml:"shell" toml:"shell"`
	Steps   []rawStep `yaml:"steps" toml:"steps"`
}

// Load reads, decodes and validates the plan file at path.
func Load(path string) (*File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes and validates plan data.
func Parse(data []byte, format Format) (*File, error) {
	var raw rawFile
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}

	x := newExpander(raw.Vars)
	f := &File{
		Vars:  raw.Vars,
		Flags: make(map[string]string, len(raw.Flags)),
		Dir:   x.expand(raw.Dir),
		Shell: x.expandAll(raw.Shell),
	}
	for k, desc := range raw.Flags {
		f.Flags[NormalizeKey(k)] = desc
	}
	for _, rw := range raw.Rewrites {
		f.Rewrites = append(f.Rewrites, Rewrite{
			File:    x.expand(rw.File),
			Find:    x.expand(rw.Find),
			Replace: x.expand(rw.Replace),
		})
	}

	steps, err := convertSteps(raw.Steps, x, "steps")
	if err != nil {
		return nil, err
	}
	f.Steps = steps

	if err := x.err(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func convertSteps(raw []rawStep, x *expander, path string) ([]Step, error) {
	steps := make([]Step, 0, len(raw))
	for i, r := range raw {
		at := fmt.Sprintf("%s[%d]", path, i)

		success, err := NewCondition(r.Success)
		if err != nil {
			return nil, fmt.Errorf("%s.success: %w", at, err)
		}
		failure, err := NewCondition(r.Error)
		if err != nil {
			return nil, fmt.Errorf("%s.error: %w", at, err)
		}

		s := Step{
			Name:    r.Name,
			Expect:  x.expand(r.Expect),
			Command: x.expand(r.Command),
			Success: x.expandAll(success),
			Error:   x.expandAll(failure),
			When:    NormalizeKey(r.When),
			Shell:   x.expandAll(r.Shell),
		}
		if len(r.Steps) > 0 {
			s.Kind = Nested
			if s.Steps, err = convertSteps(r.Steps, x, at+".steps"); err != nil {
				return nil, err
			}
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Validate reports every structural problem of the plan.
func (f *File) Validate() error {
	if len(f.Steps) == 0 {
		return errors.New("plan has no steps")
	}
	var errs []error
	f.validateSteps(f.Steps, "steps", &errs)
	return errors.Join(errs...)
}

func (f *File) validateSteps(steps []Step, path string, errs *[]error) {
	for i, s := range steps {
		at := fmt.Sprintf("%s[%d]", path, i)
		if s.When != "" && len(f.Flags) > 0 {
			if _, ok := f.Flags[s.When]; !ok {
				*errs = append(*errs, fmt.Errorf("%s: activation key %q is not declared under flags", at, s.When))
			}
		}
		switch s.Kind {
		case Nested:
			if s.Command != "" {
				*errs = append(*errs, fmt.Errorf("%s: a nested block cannot have a command", at))
			}
			f.validateSteps(s.Steps, at+".steps", errs)
		case Plain:
			if len(s.Shell) > 0 {
				*errs = append(*errs, fmt.Errorf("%s: shell is only valid on a nested block", at))
			}
		}
	}
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expander substitutes ${NAME} from the plan's vars, then the environment.
// Bare $NAME is left alone so shell syntax such as $P$G survives.
type expander struct {
	vars    map[string]string
	missing map[string]bool
}

func newExpander(vars map[string]string) *expander {
	return &expander{vars: vars, missing: make(map[string]bool)}
}

func (x *expander) lookup(name string) (string, bool) {
	if v, ok := x.vars[name]; ok {
		return varRef.ReplaceAllStringFunc(v, func(ref string) string {
			return os.Getenv(ref[2 : len(ref)-1])
		}), true
	}
	return os.LookupEnv(name)
}

func (x *expander) expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return varRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		v, ok := x.lookup(name)
		if !ok {
			x.missing[name] = true
			return ref
		}
		return v
	})
}

func (x *expander) expandAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = x.expand(s)
	}
	return out
}

func (x *expander) err() error {
	if len(x.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(x.missing))
	for n := range x.missing {
		names = append(names, n)
	}
	slices.Sort(names)
	return fmt.Errorf("undefined variables: %s", strings.Join(names, ", "))
}
