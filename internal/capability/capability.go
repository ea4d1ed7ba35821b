// Package capability defines the contract between the Director and the
// external operations it orchestrates.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Well-known capability names for the built-in variants.
const (
	ProfileLookup = "profile-lookup"
	TitleSearch   = "title-search"
	Generate      = "generate"
)

// CostClass ranks capabilities by how expensive (and how safe to retry) they are.
type CostClass int

const (
	Cheap CostClass = iota
	Moderate
	Expensive
)

// String returns the lowercase name of the cost class.
func (c CostClass) String() string {
	switch c {
	case Cheap:
		return "cheap"
	case Moderate:
		return "moderate"
	case Expensive:
		return "expensive"
	}
	return fmt.Sprintf("cost(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c CostClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CostClass) UnmarshalText(b []byte) error {
	parsed, err := ParseCostClass(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCostClass parses "cheap", "moderate" or "expensive" (case-insensitive).
func ParseCostClass(s string) (CostClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cheap":
		return Cheap, nil
	case "moderate":
		return Moderate, nil
	case "expensive":
		return Expensive, nil
	}
	return Cheap, fmt.Errorf("unknown cost class %q (want cheap, moderate or expensive)", s)
}

// Args is the argument mapping passed to a capability.
type Args map[string]any

// Output is the result mapping returned by a capability.
type Output map[string]any

// Field describes one entry of a Schema.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "string", "[]string", "int", "object"
	Required bool   `json:"required,omitempty"`
}

// Schema is a flat description of an argument or output mapping.
type Schema []Field

// Validate checks that every required field is present and non-nil.
func (s Schema) Validate(m map[string]any) error {
	var missing []string
	for _, f := range s {
		if !f.Required {
			continue
		}
		if v, ok := m[f.Name]; !ok || v == nil {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Descriptor is the static catalog entry for a capability.
type Descriptor struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Input       Schema    `json:"input_schema"`
	Output      Schema    `json:"output_schema"`
	Cost        CostClass `json:"cost_class"`
}

// Capability is an external operation reachable through a fixed schema.
type Capability interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, args Args) (Output, error)
}

// Digest is the bounded summary of one capability result kept by the Director.
// Facts hold the small structured values slot rules derive from; never the raw payload.
type Digest struct {
	Summary string
	Facts   map[string]any
	RawRef  string
}

// Digester is implemented by capabilities that know how to summarise their own output.
type Digester interface {
	Digest(args Args, out Output) Digest
}

// typed adapts a function over concrete input/output structs to the Capability contract.
type typed[In, Out any] struct {
	desc   Descriptor
	fn     func(ctx context.Context, in In) (Out, error)
	digest func(in In, out Out) Digest
}

// Typed wraps fn so that arguments are checked against desc.Input and decoded
// into In before the call, and Out is encoded and checked against desc.Output after it.
// digest may be nil.
func Typed[In, Out any](desc Descriptor, fn func(ctx context.Context, in In) (Out, error), digest func(in In, out Out) Digest) Capability {
	return &typed[In, Out]{desc: desc, fn: fn, digest: digest}
}

func (t *typed[In, Out]) Descriptor() Descriptor { return t.desc }

func (t *typed[In, Out]) Invoke(ctx context.Context, args Args) (Output, error) {
	if err := t.desc.Input.Validate(args); err != nil {
		return nil, fmt.Errorf("%s: %w", t.desc.Name, err)
	}
	in, err := Decode[In](args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.desc.Name, err)
	}
	out, err := t.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	m, err := Encode(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.desc.Name, err)
	}
	if err := t.desc.Output.Validate(m); err != nil {
		return nil, fmt.Errorf("%s: output: %w", t.desc.Name, err)
	}
	return m, nil
}

func (t *typed[In, Out]) Digest(args Args, out Output) Digest {
	if t.digest == nil {
		return DefaultDigest(out)
	}
	in, err := Decode[In](args)
	if err != nil {
		return DefaultDigest(out)
	}
	o, err := Decode[Out](out)
	if err != nil {
		return DefaultDigest(out)
	}
	return t.digest(in, o)
}

// DefaultDigest summarises an output nobody taught us to read: the first
// characters of its JSON form, with no facts.
func DefaultDigest(out Output) Digest {
	b, err := json.Marshal(out)
	if err != nil {
		return Digest{Summary: "unserializable output"}
	}
	return Digest{Summary: string(b)}
}

// Decode converts a loosely typed mapping into T via its JSON form.
func Decode[T any](m map[string]any) (T, error) {
	var result T
	b, err := json.Marshal(m)
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

// Encode converts v into a loosely typed mapping via its JSON form.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return m, nil
}
