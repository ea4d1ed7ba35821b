// Package accumulator records what the Director has learned during one request.
package accumulator

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/hyperknow/internal/errors"
)

// MaxSummaryChars bounds Finding.Summary.
const MaxSummaryChars = 280

// Priority orders slots for the packager's reduction policy.
type Priority int

const (
	Low Priority = iota
	High
)

// Finding is the digest of one capability call. Findings are never mutated
// once recorded; newer findings supersede older ones through slot derivation.
type Finding struct {
	Seq        int            `json:"seq"`
	Source     string         `json:"source"`
	Goal       string         `json:"goal,omitempty"`
	Summary    string         `json:"summary"`
	Facts      map[string]any `json:"facts,omitempty"`
	RawRef     string         `json:"raw_ref,omitempty"`
	Attempts   int            `json:"attempts"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Slot is one named value derived from findings.
type Slot struct {
	Name      string   `json:"name"`
	Value     any      `json:"value"`
	Required  bool     `json:"required,omitempty"`
	Priority  Priority `json:"priority"`
	Reducible bool     `json:"reducible,omitempty"` // list slot that may shrink to count + sample
	Source    string   `json:"source"`
	Seq       int      `json:"seq"` // seq of the finding that last wrote the slot
}

// Rule derives slots from a finding. Rules must be pure functions of the finding.
type Rule func(f Finding) []Slot

// Rules maps a capability name to its slot derivation rule.
type Rules map[string]Rule

// Snapshot is an immutable view of the accumulated state.
type Snapshot struct {
	findings []Finding
	slots    map[string]Slot
}

// Findings returns a copy of the finding log in recording order.
func (s Snapshot) Findings() []Finding {
	out := make([]Finding, len(s.findings))
	for i, f := range s.findings {
		out[i] = cloneFinding(f)
	}
	return out
}

// Len returns the number of findings.
func (s Snapshot) Len() int {
	return len(s.findings)
}

// HasSource reports whether a finding from the named capability exists.
func (s Snapshot) HasSource(source string) bool {
	for _, f := range s.findings {
		if f.Source == source {
			return true
		}
	}
	return false
}

// Slot returns the named slot.
func (s Snapshot) Slot(name string) (Slot, bool) {
	sl, ok := s.slots[name]
	if !ok {
		return Slot{}, false
	}
	sl.Value = cloneValue(sl.Value)
	return sl, true
}

// Slots returns all slots ordered by the seq that last wrote them (oldest
// first), ties broken by name.
func (s Snapshot) Slots() []Slot {
	out := make([]Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		sl.Value = cloneValue(sl.Value)
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SlotValues returns the slot mapping as plain name → value.
func (s Snapshot) SlotValues() map[string]any {
	out := make(map[string]any, len(s.slots))
	for name, sl := range s.slots {
		out[name] = cloneValue(sl.Value)
	}
	return out
}

// Accumulator is the append-only context of one in-flight request.
// It is owned by a single request loop and is not safe for concurrent use.
type Accumulator struct {
	rules    Rules
	findings []Finding
	slots    map[string]Slot
	log      *slog.Logger
	now      func() time.Time
}

// New creates an empty Accumulator using the given slot rules.
func New(rules Rules, log *slog.Logger) *Accumulator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Accumulator{
		rules: rules,
		slots: make(map[string]Slot),
		log:   log,
		now:   time.Now,
	}
}

// Record appends f and updates derived slots. Seq and RecordedAt are assigned
// here. When f redefines a slot another finding set to a different value, the
// newer value wins, the conflict is logged, and a SlotConflict error is
// returned; the finding is recorded either way.
func (a *Accumulator) Record(f Finding) (Finding, error) {
	f.Seq = len(a.findings) + 1
	if f.RecordedAt.IsZero() {
		f.RecordedAt = a.now()
	}
	f.Summary = truncate(f.Summary, MaxSummaryChars)
	f = cloneFinding(f)
	a.findings = append(a.findings, f)

	conflicts := apply(a.slots, a.rules, f)
	if len(conflicts) == 0 {
		return cloneFinding(f), nil
	}
	for _, c := range conflicts {
		a.log.Warn("slot conflict; newer finding wins",
			"slot", c.Details["slot"],
			"previous_source", c.Details["previous_source"],
			"new_source", c.Details["new_source"],
			"seq", f.Seq)
	}
	return cloneFinding(f), conflicts[0]
}

// Snapshot returns an immutable view of the current state.
func (a *Accumulator) Snapshot() Snapshot {
	findings := make([]Finding, len(a.findings))
	for i, f := range a.findings {
		findings[i] = cloneFinding(f)
	}
	slots := make(map[string]Slot, len(a.slots))
	for k, v := range a.slots {
		v.Value = cloneValue(v.Value)
		slots[k] = v
	}
	return Snapshot{findings: findings, slots: slots}
}

// Replay rebuilds slots from a finding sequence. The slot mapping is a cache
// over the finding log; Replay is the source of truth it must agree with.
func Replay(rules Rules, findings []Finding) Snapshot {
	slots := make(map[string]Slot)
	kept := make([]Finding, len(findings))
	for i, f := range findings {
		kept[i] = cloneFinding(f)
		apply(slots, rules, kept[i])
	}
	return Snapshot{findings: kept, slots: slots}
}

// apply folds f into slots and returns the conflicts it caused.
func apply(slots map[string]Slot, rules Rules, f Finding) []*errors.DirectorError {
	rule, ok := rules[f.Source]
	if !ok {
		return nil
	}
	var conflicts []*errors.DirectorError
	for _, sl := range rule(f) {
		if sl.Name == "" {
			continue
		}
		sl.Source = f.Source
		sl.Seq = f.Seq
		sl.Value = cloneValue(sl.Value)
		if prev, exists := slots[sl.Name]; exists && prev.Seq != f.Seq && !reflect.DeepEqual(prev.Value, sl.Value) {
			conflicts = append(conflicts, errors.NewSlotConflict(sl.Name,
				fmt.Sprintf("%s#%d", prev.Source, prev.Seq),
				fmt.Sprintf("%s#%d", f.Source, f.Seq)))
		}
		slots[sl.Name] = sl
	}
	return conflicts
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

func cloneFinding(f Finding) Finding {
	if f.Facts != nil {
		facts := make(map[string]any, len(f.Facts))
		for k, v := range f.Facts {
			facts[k] = cloneValue(v)
		}
		f.Facts = facts
	}
	return f
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	}
	return v
}
