package capability

import (
	"context"
	"iter"
	"strings"

	"github.com/hpungsan/hyperknow/internal/errors"
)

// Registry is the static catalog of capabilities.
// It is filled once at process start and sealed; after Seal it is read-only
// and safe for any number of concurrent readers without locking.
type Registry struct {
	entries []Capability
	index   map[string]int
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a capability. Names must be unique.
func (r *Registry) Register(c Capability) error {
	if r.sealed {
		return errors.NewInvalidRequest("registry is sealed")
	}
	desc := c.Descriptor()
	name := strings.TrimSpace(desc.Name)
	if name == "" {
		return errors.NewInvalidRequest("capability name is required")
	}
	if _, ok := r.index[name]; ok {
		return errors.NewDuplicateCapability(name)
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, c)
	return nil
}

// Seal freezes the registry. Further Register calls fail.
func (r *Registry) Seal() *Registry {
	r.sealed = true
	return r
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, errors.NewUnknownCapability(name)
	}
	return r.entries[i], nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Order returns the insertion position of name, or -1 if absent.
// The planner uses it to break ties between equally cheap capabilities.
func (r *Registry) Order(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	return -1
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.entries)
}

// ListByCost yields descriptors at or below maxCost in insertion order.
// The sequence is lazy and can be ranged over any number of times.
func (r *Registry) ListByCost(maxCost CostClass) iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		for _, c := range r.entries {
			d := c.Descriptor()
			if d.Cost > maxCost {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Descriptors returns every descriptor in insertion order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for d := range r.ListByCost(Expensive) {
		out = append(out, d)
	}
	return out
}

// Invoke looks up name and calls it. Nested generation calls re-enter
// through here, so they obey the same contract as the Director's own calls.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (Output, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, args)
}
