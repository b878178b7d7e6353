package config

import (
	"fmt"
	"strings"
	"time"
)

// Budgets bounds the work a single analysis task may do. It is passed by
// value and never modified after a run starts.
type Budgets struct {
	MaxIterations     int
	MaxFixAttempts    int
	SelfCritique      bool
	DocAssist         bool
	ExecutionTimeout  time.Duration
	GenerationTimeout time.Duration
	MaxParallel       int
}

// Validate rejects budgets a driver cannot honour.
func (b Budgets) Validate() error {
	if b.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", b.MaxIterations)
	}
	if b.MaxFixAttempts < 0 {
		return fmt.Errorf("max fix attempts must be >= 0, got %d", b.MaxFixAttempts)
	}
	if b.ExecutionTimeout <= 0 {
		return fmt.Errorf("execution timeout must be positive, got %s", b.ExecutionTimeout)
	}
	return nil
}

// Parallelism returns the worker limit, never less than one.
func (b Budgets) Parallelism() int {
	if b.MaxParallel < 1 {
		return 1
	}
	return b.MaxParallel
}

// Duration is a time.Duration that reads and writes as a TOML string like "10m".
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Roles maps each hinted column to its econometric role.
func (h SchemaHints) Roles() map[string]string {
	roles := make(map[string]string)
	add := func(col, role string) {
		if col == "" {
			return
		}
		if prev, ok := roles[col]; ok {
			role = prev + ", " + role
		}
		roles[col] = role
	}
	add(h.Outcome, "outcome")
	add(h.Treatment, "treatment")
	add(h.TimeVar, "time")
	add(h.UnitVar, "unit")
	add(h.ClusterSE, "cluster standard errors")
	return roles
}

// Columns returns the distinct hinted column names in role order.
func (h SchemaHints) Columns() []string {
	var cols []string
	for _, c := range []string{h.Outcome, h.Treatment, h.TimeVar, h.UnitVar, h.ClusterSE} {
		if c == "" {
			continue
		}
		dup := false
		for _, existing := range cols {
			if existing == c {
				dup = true
				break
			}
		}
		if !dup {
			cols = append(cols, c)
		}
	}
	return cols
}

// Notes renders the hints as guidance for code generation, or "" when no
// hint is set.
func (h SchemaHints) Notes() string {
	var b strings.Builder
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("Outcome variable", h.Outcome)
	line("Treatment variable", h.Treatment)
	line("Time variable", h.TimeVar)
	line("Panel unit variable", h.UnitVar)
	line("Cluster standard errors by", h.ClusterSE)
	return b.String()
}
