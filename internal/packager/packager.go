// Package packager turns accumulated context into the bounded payload handed
// to the generation capability.
package packager

import (
	"encoding/json"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/hyperknow/internal/accumulator"
	"github.com/hpungsan/hyperknow/internal/errors"
)

// Payload is the structured delegation handed to the generation capability.
type Payload struct {
	Instruction string         `json:"instruction"`
	Context     map[string]any `json:"structured_context"`
	BudgetHint  int            `json:"budget_hint"`

	// Dropped and Reduced record what the reduction policy removed or shrank.
	// They are not part of the serialized payload.
	Dropped []string `json:"-"`
	Reduced []string `json:"-"`
}

// Size returns the serialized size of p in characters.
func (p *Payload) Size() int {
	b, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return utf8.RuneCount(b)
}

// Reduced is the shape a reducible list slot shrinks to.
type Reduced struct {
	Count  int      `json:"count"`
	Sample []string `json:"sample"`
}

// Packager builds payloads no larger than MaxChars.
type Packager struct {
	MaxChars int
}

// New creates a Packager with the given ceiling.
func New(maxChars int) *Packager {
	return &Packager{MaxChars: maxChars}
}

// Package copies the slot mapping (never the finding log) and the instruction
// into a payload. When the payload is over the ceiling it applies, in order:
//
//  1. drop low-priority optional slots, least recently added first
//  2. shrink reducible optional slots to a count and a halving sample
//  3. drop the remaining optional slots, least recently added first
//
// The instruction and required slots are never touched. If they alone exceed
// the ceiling the result is PayloadTooLarge.
func (p *Packager) Package(snap accumulator.Snapshot, instruction string, budgetHint int) (*Payload, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, errors.NewInvalidRequest("instruction is required")
	}

	slots := snap.Slots()
	payload := &Payload{
		Instruction: instruction,
		Context:     make(map[string]any, len(slots)),
		BudgetHint:  budgetHint,
	}
	for _, sl := range slots {
		payload.Context[sl.Name] = sl.Value
	}
	if p.fits(payload) {
		return payload, nil
	}

	for _, sl := range slots {
		if sl.Required || sl.Priority != accumulator.Low {
			continue
		}
		drop(payload, sl.Name)
		if p.fits(payload) {
			return payload, nil
		}
	}

	for _, sl := range slots {
		if sl.Required || !sl.Reducible {
			continue
		}
		if _, ok := payload.Context[sl.Name]; !ok {
			continue
		}
		if p.reduce(payload, sl) {
			return payload, nil
		}
	}

	for _, sl := range slots {
		if sl.Required {
			continue
		}
		if _, ok := payload.Context[sl.Name]; !ok {
			continue
		}
		drop(payload, sl.Name)
		if p.fits(payload) {
			return payload, nil
		}
	}

	return nil, errors.NewPayloadTooLarge(p.MaxChars, payload.Size())
}

// reduce shrinks a list slot to {count, sample}, halving the sample until the
// payload fits or the sample is empty. Returns true when the payload fits.
// The slot is listed in Reduced while it is present in reduced form; drop
// takes it off again.
func (p *Packager) reduce(payload *Payload, sl accumulator.Slot) bool {
	items := toStrings(sl.Value)
	if items == nil {
		return false
	}
	if !slices.Contains(payload.Reduced, sl.Name) {
		payload.Reduced = append(payload.Reduced, sl.Name)
	}
	n := len(items)
	for {
		n /= 2
		payload.Context[sl.Name] = Reduced{Count: len(items), Sample: items[:n]}
		if p.fits(payload) {
			return true
		}
		if n == 0 {
			return false
		}
	}
}

func (p *Packager) fits(payload *Payload) bool {
	return p.MaxChars <= 0 || payload.Size() <= p.MaxChars
}

func drop(payload *Payload, name string) {
	if _, ok := payload.Context[name]; !ok {
		return
	}
	delete(payload.Context, name)
	payload.Reduced = slices.DeleteFunc(payload.Reduced, func(r string) bool { return r == name })
	payload.Dropped = append(payload.Dropped, name)
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

// Titles extracts a title list from a structured-context value that may be a
// plain list or a reduced {count, sample} form.
func Titles(v any) (titles []string, total int) {
	if list := toStrings(v); list != nil {
		return list, len(list)
	}
	switch t := v.(type) {
	case Reduced:
		return t.Sample, t.Count
	case map[string]any:
		sample := toStrings(t["sample"])
		count := len(sample)
		switch c := t["count"].(type) {
		case float64:
			count = int(c)
		case int:
			count = c
		}
		return sample, count
	}
	return nil, 0
}
