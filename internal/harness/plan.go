package harness

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tracecheck/internal/analyzer"
	"github.com/roach88/tracecheck/internal/config"
	"github.com/roach88/tracecheck/internal/executor"
	"github.com/roach88/tracecheck/internal/scheduler"
)

//go:embed plan_schema.cue
var planSchema string

// Plan describes one validation run.
type Plan struct {
	// Name identifies the plan in reports and history.
	Name string `yaml:"name" json:"name"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Iterations, Timeout, Seed and Settle are used only when the caller did
	// not set them by flag or environment.
	Iterations int           `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	Timeout    Duration      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Seed       *uint64       `yaml:"seed,omitempty" json:"seed,omitempty"`
	Settle     *SettlePolicy `yaml:"settle,omitempty" json:"settle,omitempty"`

	// Validation operations are read-only checks.
	Validation []OperationSpec `yaml:"validation,omitempty" json:"validation,omitempty"`

	// Coordination operations mutate shared state.
	Coordination []OperationSpec `yaml:"coordination,omitempty" json:"coordination,omitempty"`

	Expectations []Expectation `yaml:"expectations,omitempty" json:"expectations,omitempty"`

	// dir is the directory relative paths resolve against.
	dir string
}

// OperationSpec is one external command. Exactly one of Command or Run must
// be set.
type OperationSpec struct {
	Name string `yaml:"name" json:"name"`

	// Command is split into argv with shell quoting rules. It is not run
	// through a shell.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Run is the argv verbatim.
	Run []string `yaml:"run,omitempty" json:"run,omitempty"`

	Dir string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// SettlePolicy overrides the telemetry settle wait.
type SettlePolicy struct {
	Interval Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Quiet    Duration `yaml:"quiet,omitempty" json:"quiet,omitempty"`
	Max      Duration `yaml:"max,omitempty" json:"max,omitempty"`
}

// Options converts the policy, leaving unset fields zero.
func (s SettlePolicy) Options() analyzer.SettleOptions {
	return analyzer.SettleOptions{
		Interval: time.Duration(s.Interval),
		Quiet:    time.Duration(s.Quiet),
		Max:      time.Duration(s.Max),
	}
}

// Duration is a time.Duration written as "30s" in plan files.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration %q is negative", s)
	}
	*d = Duration(v)
	return nil
}

// LoadPlan reads a plan file. Files ending in .cue are validated against the
// embedded #Plan schema; anything else is parsed as YAML.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve plan path: %w", err)
	}
	dir := filepath.Dir(abs)

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return ParseCUE(data, filepath.Base(path), dir)
	}
	return ParseYAML(data, dir)
}

// ParseYAML parses a YAML plan. Unknown fields are rejected.
func ParseYAML(data []byte, dir string) (*Plan, error) {
	var plan Plan
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	plan.dir = dir

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &plan, nil
}

// ParseCUE unifies a CUE plan with the #Plan schema and decodes the result.
func ParseCUE(data []byte, filename, dir string) (*Plan, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(planSchema, cue.Filename("plan_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Plan"))

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse CUE: %w", planError(err, filename))
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", planError(err, filename))
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export CUE plan: %w", err)
	}

	var plan Plan
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode CUE plan: %w", err)
	}
	plan.dir = dir

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &plan, nil
}

// PlanError is a CUE plan error pinned to a position in the plan file.
type PlanError struct {
	Message string
	Pos     token.Pos
}

func (e *PlanError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// planError picks the first CUE error that points into the plan file itself.
// Errors positioned only in the embedded schema fall back to the first error.
func planError(err error, filename string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	for _, e := range errs {
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == filename {
				return &PlanError{Message: e.Error(), Pos: pos}
			}
		}
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &PlanError{Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// Validate checks the plan's structure. It does not touch the filesystem;
// executables are resolved by Operations.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Iterations < 0 {
		return fmt.Errorf("iterations must be at least 1, got %d", p.Iterations)
	}
	if len(p.Validation)+len(p.Coordination) == 0 {
		return fmt.Errorf("at least one validation or coordination operation is required")
	}

	seen := make(map[string]bool)
	for _, section := range []struct {
		name string
		ops  []OperationSpec
	}{
		{"validation", p.Validation},
		{"coordination", p.Coordination},
	} {
		for i, op := range section.ops {
			if op.Name == "" {
				return fmt.Errorf("%s[%d]: name is required", section.name, i)
			}
			if seen[op.Name] {
				return fmt.Errorf("%s[%d]: duplicate operation name %q", section.name, i, op.Name)
			}
			seen[op.Name] = true

			switch {
			case op.Command == "" && len(op.Run) == 0:
				return fmt.Errorf("operation %q: one of command or run is required", op.Name)
			case op.Command != "" && len(op.Run) > 0:
				return fmt.Errorf("operation %q: command and run are mutually exclusive", op.Name)
			}
		}
	}

	for i, exp := range p.Expectations {
		if err := exp.validate(); err != nil {
			return fmt.Errorf("expectations[%d]: %w", i, err)
		}
	}
	return nil
}

// Dir returns the directory relative paths resolve against.
func (p *Plan) Dir() string {
	return p.dir
}

// Apply fills fields of cfg that flags and environment left unset.
func (p *Plan) Apply(cfg *config.Config) {
	if cfg.Iterations == 0 {
		cfg.Iterations = p.Iterations
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Duration(p.Timeout)
	}
	if !cfg.SeedSet && p.Seed != nil {
		cfg.Seed = *p.Seed
		cfg.SeedSet = true
	}
	if p.Settle != nil {
		opts := p.Settle.Options()
		if cfg.Settle.Interval == 0 {
			cfg.Settle.Interval = opts.Interval
		}
		if cfg.Settle.Quiet == 0 {
			cfg.Settle.Quiet = opts.Quiet
		}
		if cfg.Settle.Max == 0 {
			cfg.Settle.Max = opts.Max
		}
	}
}

// Operations resolves the plan's operations into scheduler operations.
// A command that cannot be split or an executable that cannot be found is a
// configuration error.
func (p *Plan) Operations() (validation, coordination []scheduler.Operation, err error) {
	validation, err = p.resolve(p.Validation, scheduler.Validation)
	if err != nil {
		return nil, nil, err
	}
	coordination, err = p.resolve(p.Coordination, scheduler.Coordination)
	if err != nil {
		return nil, nil, err
	}
	return validation, coordination, nil
}

func (p *Plan) resolve(specs []OperationSpec, kind scheduler.OperationKind) ([]scheduler.Operation, error) {
	ops := make([]scheduler.Operation, 0, len(specs))
	for _, spec := range specs {
		argv := spec.Run
		if spec.Command != "" {
			var err error
			argv, err = shlex.Split(spec.Command)
			if err != nil {
				return nil, config.Errorf("operation "+spec.Name, "split command: %v", err)
			}
			if len(argv) == 0 {
				return nil, config.Errorf("operation "+spec.Name, "command is empty")
			}
		}

		exe := argv[0]
		if strings.ContainsRune(exe, filepath.Separator) && !filepath.IsAbs(exe) {
			exe = filepath.Join(p.dir, exe)
		}
		resolved, err := config.ResolveExecutable(spec.Name, exe)
		if err != nil {
			return nil, err
		}

		dir := p.dir
		if spec.Dir != "" {
			dir = spec.Dir
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(p.dir, dir)
			}
		}

		ops = append(ops, scheduler.Operation{
			Name: spec.Name,
			Kind: kind,
			Invocation: executor.Invocation{
				Executable: resolved,
				Args:       append([]string(nil), argv[1:]...),
				Dir:        dir,
				Env:        spec.Env,
			},
		})
	}
	return ops, nil
}
