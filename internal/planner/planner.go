// Package planner decides the Director's next step from the accumulated
// context. The planner holds no per-request state; every decision is a pure
// function of its input.
package planner

import (
	"fmt"
	"strings"

	"github.com/hpungsan/hyperknow/internal/accumulator"
	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/errors"
	"github.com/hpungsan/hyperknow/internal/packager"
)

// Kind tags a Decision.
type Kind int

const (
	Invoke Kind = iota
	Delegate
	Fail
)

func (k Kind) String() string {
	switch k {
	case Invoke:
		return "invoke"
	case Delegate:
		return "delegate"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Decision is the planner's answer for one round.
type Decision struct {
	Kind Kind

	// Invoke
	Goal       string
	Capability string
	Args       capability.Args

	// Delegate: Capability is the generator.
	Instruction string

	// Fail
	Err error
}

// Input is everything one decision may look at.
type Input struct {
	Intent   Intent
	Snapshot accumulator.Snapshot
	// Rounds is the number of capability rounds already completed.
	Rounds int
}

// Options configure a Planner.
type Options struct {
	MaxRounds   int
	EmptyTitles config.EmptyTitlesPolicy
	Topics      map[string][]string
}

// Planner evaluates a goal graph against a registry.
type Planner struct {
	graph       Graph
	reg         *capability.Registry
	maxRounds   int
	emptyTitles config.EmptyTitlesPolicy
	topics      map[string][]string
}

// New creates a planner. The graph is validated; capabilities it names are
// checked on every decision so a missing one fails the request, not startup.
func New(reg *capability.Registry, g Graph, opts Options) (*Planner, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = config.DefaultConfig().MaxRounds
	}
	if opts.EmptyTitles == "" {
		opts.EmptyTitles = config.EmptyTitlesDelegate
	}
	return &Planner{
		graph:       g,
		reg:         reg,
		maxRounds:   opts.MaxRounds,
		emptyTitles: opts.EmptyTitles,
		topics:      opts.Topics,
	}, nil
}

// MaxRounds returns the configured round limit.
func (p *Planner) MaxRounds() int {
	return p.maxRounds
}

// Graph returns the goal graph.
func (p *Planner) Graph() Graph {
	return p.graph
}

// Classify interprets a raw query using the planner's graph and topic table.
func (p *Planner) Classify(query string) Intent {
	return Classify(p.graph, p.topics, query)
}

// Decide returns the next step:
//
//   - Fail when a capability the intent needs is not registered
//   - Invoke for the cheapest unsatisfied goal whose prerequisites are
//     satisfied, ties broken by registry insertion order
//   - Fail with RoundBudgetExceeded instead of an Invoke past the round limit
//   - Fail with GoalStalled when unsatisfied goals remain but none is eligible
//   - Delegate once every goal is satisfied
func (p *Planner) Decide(in Input) Decision {
	spec, ok := p.graph.Intents[in.Intent.Category]
	if !ok {
		return failed(errors.NewInvalidRequest(fmt.Sprintf("unknown intent category %q", in.Intent.Category)))
	}

	for _, goal := range spec.Goals {
		if !p.reg.Has(goal.Capability) {
			return failed(errors.NewUnknownCapability(goal.Capability))
		}
	}
	if !p.reg.Has(p.graph.Generator) {
		return failed(errors.NewUnknownCapability(p.graph.Generator))
	}

	satisfied := make(map[string]bool, len(spec.Goals))
	for _, goal := range spec.Goals {
		satisfied[goal.Name] = in.Snapshot.HasSource(goal.Capability)
	}

	var (
		next    *Goal
		cost    capability.CostClass
		order   int
		pending []string
	)
	for i := range spec.Goals {
		goal := &spec.Goals[i]
		if satisfied[goal.Name] {
			continue
		}
		pending = append(pending, goal.Name)
		if !prerequisitesMet(goal, satisfied) {
			continue
		}
		c, _ := p.reg.Lookup(goal.Capability)
		gc := c.Descriptor().Cost
		gi := p.reg.Order(goal.Capability)
		if next == nil || gc < cost || (gc == cost && gi < order) {
			next, cost, order = goal, gc, gi
		}
	}

	if len(pending) > 0 {
		if next == nil {
			return failed(errors.NewGoalStalled(pending))
		}
		if in.Rounds >= p.maxRounds {
			return failed(errors.NewRoundBudgetExceeded(p.maxRounds))
		}
		return Decision{
			Kind:       Invoke,
			Goal:       next.Name,
			Capability: next.Capability,
			Args:       resolveArgs(next.Args, in),
		}
	}

	if p.emptyTitles == config.EmptyTitlesFail && p.graph.SourcesSlot != "" {
		if sl, ok := in.Snapshot.Slot(p.graph.SourcesSlot); ok {
			if _, total := packager.Titles(sl.Value); total == 0 {
				return failed(errors.NewNoSources(in.Intent.Keywords))
			}
		}
	}

	return Decision{
		Kind:        Delegate,
		Capability:  p.graph.Generator,
		Instruction: instruction(spec, in.Intent),
	}
}

func prerequisitesMet(goal *Goal, satisfied map[string]bool) bool {
	for _, req := range goal.Requires {
		if !satisfied[req] {
			return false
		}
	}
	return true
}

// resolveArgs expands argument references against the intent and slots.
// A $slot reference to a missing slot is left out.
func resolveArgs(refs map[string]string, in Input) capability.Args {
	args := make(capability.Args, len(refs))
	for name, ref := range refs {
		switch {
		case ref == ArgTopic:
			topic := in.Intent.Topic
			if topic == "" && len(in.Intent.Keywords) > 0 {
				topic = in.Intent.Keywords[0]
			}
			args[name] = topic
		case ref == ArgKeywords:
			args[name] = append([]string(nil), in.Intent.Keywords...)
		case ref == ArgQuery:
			args[name] = in.Intent.Query
		case strings.HasPrefix(ref, ArgSlot):
			if sl, ok := in.Snapshot.Slot(strings.TrimPrefix(ref, ArgSlot)); ok {
				args[name] = sl.Value
			}
		default:
			args[name] = ref
		}
	}
	return args
}

func instruction(spec IntentSpec, intent Intent) string {
	if intent.Query == "" {
		return spec.Instruction
	}
	return spec.Instruction + "\n\nUser request: " + intent.Query
}

func failed(err error) Decision {
	return Decision{Kind: Fail, Err: err}
}
