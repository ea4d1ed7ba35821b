package planner

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/hyperknow/internal/capability"
)

// Goal is one node of an intent's checklist. A goal is satisfied once a
// finding from its capability exists.
type Goal struct {
	Name       string            `yaml:"name"`
	Capability string            `yaml:"capability"`
	Requires   []string          `yaml:"requires,omitempty"`
	Args       map[string]string `yaml:"args,omitempty"`
}

// IntentSpec declares the goals and final instruction of one intent category.
type IntentSpec struct {
	Triggers    []string `yaml:"triggers,omitempty"`
	Instruction string   `yaml:"instruction"`
	Goals       []Goal   `yaml:"goals"`
}

// Graph maps intent categories to their goal checklists.
type Graph struct {
	DefaultIntent string                `yaml:"default_intent"`
	Generator     string                `yaml:"generator"`
	SourcesSlot   string                `yaml:"sources_slot,omitempty"`
	Intents       map[string]IntentSpec `yaml:"intents"`
}

// Argument sources usable in Goal.Args. Anything else is passed literally.
const (
	ArgTopic    = "$topic"
	ArgKeywords = "$keywords"
	ArgQuery    = "$query"
	ArgSlot     = "$slot." // prefix: $slot.user_level
)

// DefaultGraph returns the built-in goal graph.
func DefaultGraph() Graph {
	audience := Goal{
		Name:       "understand-audience",
		Capability: capability.ProfileLookup,
		Args:       map[string]string{"category": ArgTopic},
	}
	sources := Goal{
		Name:       "locate-sources",
		Capability: capability.TitleSearch,
		Args:       map[string]string{"keywords": ArgKeywords},
	}
	// Explaining adapts the search to the audience, so sources wait for it.
	explainSources := sources
	explainSources.Requires = []string{"understand-audience"}

	return Graph{
		DefaultIntent: "summarize",
		Generator:     capability.Generate,
		SourcesSlot:   "available_titles",
		Intents: map[string]IntentSpec{
			"summarize": {
				Triggers:    []string{"summarize", "summarise", "summary", "recap", "overview", "总结", "概括"},
				Instruction: "Summarize the reference materials for the user, matching their knowledge level.",
				Goals:       []Goal{audience, sources},
			},
			"explain": {
				Triggers:    []string{"explain", "what is", "why", "how does", "解释", "为什么"},
				Instruction: "Explain the topic using the reference materials, pitched at the user's knowledge level.",
				Goals:       []Goal{audience, explainSources},
			},
			"find": {
				Triggers:    []string{"find", "list", "which files", "which documents", "查找", "列出"},
				Instruction: "List the relevant documents and say in one line what each covers.",
				Goals:       []Goal{sources},
			},
		},
	}
}

// LoadGraph reads a YAML goal graph from path.
func LoadGraph(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Graph{}, fmt.Errorf("read goal graph: %w", err)
	}
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Graph{}, fmt.Errorf("parse goal graph: %w", err)
	}
	if g.Generator == "" {
		g.Generator = capability.Generate
	}
	if err := g.Validate(); err != nil {
		return Graph{}, err
	}
	return g, nil
}

// IntentNames returns intent categories in sorted order.
func (g Graph) IntentNames() []string {
	names := make([]string, 0, len(g.Intents))
	for name := range g.Intents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks structural rules: a default intent that exists, unique goal
// names per intent, prerequisites that name goals of the same intent, and no
// prerequisite cycles.
func (g Graph) Validate() error {
	if len(g.Intents) == 0 {
		return fmt.Errorf("goal graph has no intents")
	}
	if _, ok := g.Intents[g.DefaultIntent]; !ok {
		return fmt.Errorf("default intent %q is not defined", g.DefaultIntent)
	}
	for _, name := range g.IntentNames() {
		spec := g.Intents[name]
		if strings.TrimSpace(spec.Instruction) == "" {
			return fmt.Errorf("intent %q: instruction is required", name)
		}
		byName := make(map[string]Goal, len(spec.Goals))
		for _, goal := range spec.Goals {
			if goal.Name == "" || goal.Capability == "" {
				return fmt.Errorf("intent %q: goals need a name and a capability", name)
			}
			if _, dup := byName[goal.Name]; dup {
				return fmt.Errorf("intent %q: duplicate goal %q", name, goal.Name)
			}
			byName[goal.Name] = goal
		}
		for _, goal := range spec.Goals {
			for _, req := range goal.Requires {
				if _, ok := byName[req]; !ok {
					return fmt.Errorf("intent %q: goal %q requires unknown goal %q", name, goal.Name, req)
				}
			}
		}
		if cycle := findCycle(spec.Goals, byName); cycle != nil {
			return fmt.Errorf("intent %q: prerequisite cycle %s", name, strings.Join(cycle, " -> "))
		}
	}
	return nil
}

// findCycle returns the goals along a prerequisite cycle, or nil.
func findCycle(goals []Goal, byName map[string]Goal) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(goals))
	var stack []string
	var visit func(name string) []string
	visit = func(name string) []string {
		switch state[name] {
		case visiting:
			i := slices.Index(stack, name)
			return append(slices.Clone(stack[i:]), name)
		case done:
			return nil
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, req := range byName[name].Requires {
			if c := visit(req); c != nil {
				return c
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}
	for _, goal := range goals {
		if c := visit(goal.Name); c != nil {
			return c
		}
	}
	return nil
}
