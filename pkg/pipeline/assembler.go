package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingStep is returned when an ordering declaration names an absent step.
	ErrMissingStep = errors.New("ordering references a missing step")
	// ErrCycle is returned when ordering declarations cannot be satisfied.
	ErrCycle = errors.New("ordering constraints form a cycle")
	// ErrDuplicateStep is returned when two steps share a name.
	ErrDuplicateStep = errors.New("duplicate step name")
)

// AssemblyKind classifies an AssemblyError.
type AssemblyKind string

const (
	AssemblyMissing   AssemblyKind = "missing"
	AssemblyCycle     AssemblyKind = "cycle"
	AssemblyDuplicate AssemblyKind = "duplicate"
)

// AssemblyError reports an invalid step set. It is fatal at startup.
type AssemblyError struct {
	Kind AssemblyKind
	// Step is the step whose declaration failed, when there is one.
	Step string
	// Steps are the offending step names.
	Steps []string
}

func (e *AssemblyError) Error() string {
	switch e.Kind {
	case AssemblyMissing:
		return fmt.Sprintf("pipeline: step %q requires missing step(s) %s", e.Step, strings.Join(e.Steps, ", "))
	case AssemblyCycle:
		return fmt.Sprintf("pipeline: ordering cycle between steps %s", strings.Join(e.Steps, ", "))
	case AssemblyDuplicate:
		return fmt.Sprintf("pipeline: step %q registered more than once", e.Step)
	default:
		return "pipeline: invalid step set"
	}
}

func (e *AssemblyError) Unwrap() error {
	switch e.Kind {
	case AssemblyMissing:
		return ErrMissingStep
	case AssemblyCycle:
		return ErrCycle
	case AssemblyDuplicate:
		return ErrDuplicateStep
	default:
		return nil
	}
}

type entry struct {
	step  Step
	order Ordering
}

// Assembler collects steps with their ordering declarations.
type Assembler struct {
	entries []entry
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Add registers steps in declaration order. Steps implementing Ordered
// contribute their own declarations.
func (a *Assembler) Add(steps ...Step) *Assembler {
	for _, s := range steps {
		var o Ordering
		if ord, ok := s.(Ordered); ok {
			o = ord.Ordering()
		}
		a.entries = append(a.entries, entry{step: s, order: o})
	}
	return a
}

// AddWith registers a step with an explicit ordering declaration,
// overriding any the step carries itself.
func (a *Assembler) AddWith(step Step, order Ordering) *Assembler {
	a.entries = append(a.entries, entry{step: step, order: order})
	return a
}

// Assemble validates the declarations and returns one total order.
// Ties are broken by declaration order.
func (a *Assembler) Assemble() ([]Step, error) {
	n := len(a.entries)
	index := make(map[string]int, n)
	for i, e := range a.entries {
		name := e.step.Name()
		if _, dup := index[name]; dup {
			return nil, &AssemblyError{Kind: AssemblyDuplicate, Step: name, Steps: []string{name}}
		}
		index[name] = i
	}

	// succ[i] lists the steps that must run after i.
	succ := make([][]int, n)
	indeg := make([]int, n)
	edge := func(from, to int) {
		succ[from] = append(succ[from], to)
		indeg[to]++
	}

	for i, e := range a.entries {
		var missing []string
		for _, dep := range e.order.After {
			j, ok := index[dep]
			if !ok {
				missing = append(missing, dep)
				continue
			}
			edge(j, i)
		}
		for _, dep := range e.order.Before {
			j, ok := index[dep]
			if !ok {
				missing = append(missing, dep)
				continue
			}
			edge(i, j)
		}
		if len(missing) > 0 {
			return nil, &AssemblyError{Kind: AssemblyMissing, Step: e.step.Name(), Steps: missing}
		}
	}

	done := make([]bool, n)
	ordered := make([]Step, 0, n)
	for len(ordered) < n {
		next := -1
		for i := range n {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i := range n {
				if !done[i] {
					stuck = append(stuck, a.entries[i].step.Name())
				}
			}
			return nil, &AssemblyError{Kind: AssemblyCycle, Steps: stuck}
		}
		done[next] = true
		ordered = append(ordered, a.entries[next].step)
		for _, j := range succ[next] {
			indeg[j]--
		}
	}
	return ordered, nil
}
