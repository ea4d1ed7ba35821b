// Package director drives one request from a raw query to a generated answer:
// plan, invoke, record, repeat, then delegate.
package director

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/hyperknow/internal/accumulator"
	"github.com/hpungsan/hyperknow/internal/capability"
	"github.com/hpungsan/hyperknow/internal/config"
	"github.com/hpungsan/hyperknow/internal/errors"
	"github.com/hpungsan/hyperknow/internal/packager"
	"github.com/hpungsan/hyperknow/internal/planner"
)

// State is a Director loop state.
type State string

const (
	Planning   State = "planning"
	Invoking   State = "invoking"
	Recording  State = "recording"
	Delegating State = "delegating"
	Completed  State = "completed"
	Failed     State = "failed"
)

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Request is one invocation of the Director. Immutable once created.
type Request struct {
	ID        string    `json:"id"`
	RawQuery  string    `json:"raw_query"`
	CreatedAt time.Time `json:"created_at"`
}

// Transition is one entry of a request's state trace.
type Transition struct {
	From       State     `json:"from"`
	To         State     `json:"to"`
	Capability string    `json:"capability,omitempty"`
	At         time.Time `json:"at"`
}

// Result is the outcome of one request. Conflicts lists slot conflicts that
// were absorbed along the way; the newer finding won each of them.
type Result struct {
	RequestID string                `json:"request_id"`
	State     State                 `json:"state"`
	Intent    planner.Intent        `json:"intent"`
	Answer    string                `json:"answer,omitempty"`
	Rounds    int                   `json:"rounds"`
	Decisions int                   `json:"decisions"`
	Retries   map[string]int        `json:"retries,omitempty"`
	Conflicts []string              `json:"conflicts,omitempty"`
	Payload   *packager.Payload     `json:"payload,omitempty"`
	Findings  []accumulator.Finding `json:"findings,omitempty"`
	Trace     []Transition          `json:"trace,omitempty"`
	Err       error                 `json:"-"`
}

// Compact returns a copy of r without its trace, findings and payload.
func (r *Result) Compact() *Result {
	c := *r
	c.Trace = nil
	c.Findings = nil
	c.Payload = nil
	return &c
}

// Options tune the loop.
type Options struct {
	PayloadMaxChars int
	// CheapRetries is the number of extra attempts for calls at or below
	// RetryCostCeiling. Expensive calls are never retried.
	CheapRetries     int
	RetryCostCeiling capability.CostClass
	CallTimeout      time.Duration
	RequestTimeout   time.Duration
	// GenerationDepth seeds the delegation payload's budget_hint.
	GenerationDepth int
	Rules           accumulator.Rules
	Logger          *slog.Logger
}

// OptionsFromConfig maps configuration onto loop options.
func OptionsFromConfig(cfg *config.Config, rules accumulator.Rules, log *slog.Logger) (Options, error) {
	ceiling := capability.Cheap
	if cfg.RetryCostCeiling != "" {
		c, err := capability.ParseCostClass(cfg.RetryCostCeiling)
		if err != nil {
			return Options{}, fmt.Errorf("retry_cost_ceiling: %w", err)
		}
		ceiling = c
	}
	if ceiling > capability.Moderate {
		ceiling = capability.Moderate
	}
	return Options{
		PayloadMaxChars:  cfg.PayloadMaxChars,
		CheapRetries:     cfg.CheapRetries,
		RetryCostCeiling: ceiling,
		CallTimeout:      time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		RequestTimeout:   time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		GenerationDepth:  cfg.GenerationDepth,
		Rules:            rules,
		Logger:           log,
	}, nil
}

// Director runs requests against a sealed registry. It keeps no per-request
// state, so one Director serves any number of concurrent requests.
type Director struct {
	reg      *capability.Registry
	planner  *planner.Planner
	packager *packager.Packager
	opts     Options
	log      *slog.Logger
}

// New creates a Director.
func New(reg *capability.Registry, pl *planner.Planner, opts Options) *Director {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.RetryCostCeiling > capability.Moderate {
		opts.RetryCostCeiling = capability.Moderate
	}
	return &Director{
		reg:      reg,
		planner:  pl,
		packager: packager.New(opts.PayloadMaxChars),
		opts:     opts,
		log:      log,
	}
}

// Registry returns the capability registry the Director dispatches to.
func (d *Director) Registry() *capability.Registry {
	return d.reg
}

// Handle answers query, returning the generated text or a *errors.DirectorError.
func (d *Director) Handle(ctx context.Context, query string) (string, error) {
	res, err := d.Run(ctx, query)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Run answers query and returns the full result. The result is never nil;
// on failure its State is Failed and the error is also returned.
func (d *Director) Run(ctx context.Context, query string) (*Result, error) {
	req := Request{ID: newID(), RawQuery: strings.TrimSpace(query), CreatedAt: time.Now()}
	r := &run{
		d:   d,
		req: req,
		acc: accumulator.New(d.opts.Rules, d.log.With("request_id", req.ID)),
		log: d.log.With("request_id", req.ID),
		res: &Result{RequestID: req.ID, State: Planning, Retries: map[string]int{}},
	}

	if req.RawQuery == "" {
		return r.fail(errors.NewInvalidRequest("query is required"))
	}

	if d.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.RequestTimeout)
		defer cancel()
	}

	r.res.Intent = d.planner.Classify(req.RawQuery)
	r.log.Info("request started", "intent", r.res.Intent.Category, "topic", r.res.Intent.Topic)
	return r.loop(ctx)
}

// run is the state of one in-flight request. It is owned by a single
// goroutine and discarded when the request ends.
type run struct {
	d   *Director
	req Request
	acc *accumulator.Accumulator
	log *slog.Logger
	res *Result
}

func (r *run) loop(ctx context.Context) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(errors.NewCancelled(context.Cause(ctx)))
		}

		r.res.Decisions++
		decision := r.d.planner.Decide(planner.Input{
			Intent:   r.res.Intent,
			Snapshot: r.acc.Snapshot(),
			Rounds:   r.res.Rounds,
		})
		r.log.Debug("planner decision", "kind", decision.Kind.String(), "capability", decision.Capability, "round", r.res.Rounds)

		switch decision.Kind {
		case planner.Fail:
			return r.fail(decision.Err)

		case planner.Invoke:
			r.transition(Invoking, decision.Capability)
			out, attempts, err := r.invoke(ctx, decision.Capability, decision.Args)
			if err != nil {
				return r.fail(err)
			}
			r.transition(Recording, decision.Capability)
			r.record(decision, out, attempts)
			r.res.Rounds++
			r.transition(Planning, "")

		case planner.Delegate:
			r.transition(Delegating, decision.Capability)
			return r.delegate(ctx, decision)
		}
	}
}

func (r *run) record(decision planner.Decision, out capability.Output, attempts int) {
	var digest capability.Digest
	c, _ := r.d.reg.Lookup(decision.Capability)
	if dg, ok := c.(capability.Digester); ok {
		digest = dg.Digest(decision.Args, out)
	} else {
		digest = capability.DefaultDigest(out)
	}
	if digest.RawRef == "" {
		digest.RawRef = newID()
	}

	f, err := r.acc.Record(accumulator.Finding{
		Source:   decision.Capability,
		Goal:     decision.Goal,
		Summary:  digest.Summary,
		Facts:    digest.Facts,
		RawRef:   digest.RawRef,
		Attempts: attempts,
	})
	if err != nil {
		// Slot conflicts are recovered: the newer finding already won.
		msg := err.Error()
		if de, ok := errors.As(err); ok {
			msg = de.Message
		}
		r.res.Conflicts = append(r.res.Conflicts, msg)
		r.log.Debug("slot conflict absorbed", "error", err)
	}
	r.log.Debug("finding recorded", "seq", f.Seq, "source", f.Source, "summary", f.Summary)
}

func (r *run) delegate(ctx context.Context, decision planner.Decision) (*Result, error) {
	payload, err := r.d.packager.Package(r.acc.Snapshot(), decision.Instruction, r.d.opts.GenerationDepth)
	if err != nil {
		return r.fail(err)
	}
	r.res.Payload = payload
	if len(payload.Dropped) > 0 || len(payload.Reduced) > 0 {
		r.log.Info("payload reduced", "dropped", payload.Dropped, "reduced", payload.Reduced, "size", payload.Size())
	}

	out, _, err := r.invoke(ctx, decision.Capability, capability.Args{
		"instruction": payload.Instruction,
		"context":     payload.Context,
		"budget_hint": payload.BudgetHint,
	})
	if err != nil {
		return r.fail(err)
	}
	text, _ := out["text"].(string)
	r.res.Answer = text
	r.transition(Completed, decision.Capability)
	r.res.Findings = r.acc.Snapshot().Findings()
	r.log.Info("request completed", "rounds", r.res.Rounds, "answer_chars", len(text))
	return r.res, nil
}

type callResult struct {
	out capability.Output
	err error
}

// invoke calls a capability under the per-call timeout, retrying with the
// same arguments when its cost class allows. A timeout is an ordinary failure.
func (r *run) invoke(ctx context.Context, name string, args capability.Args) (capability.Output, int, error) {
	c, err := r.d.reg.Lookup(name)
	if err != nil {
		return nil, 0, err
	}
	desc := c.Descriptor()
	maxAttempts := 1
	if desc.Cost <= r.d.opts.RetryCostCeiling && r.d.opts.CheapRetries > 0 {
		maxAttempts += r.d.opts.CheapRetries
	}

	for attempt := 1; ; attempt++ {
		out, err := r.call(ctx, c, args)
		if err == nil {
			return out, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, errors.NewCancelled(context.Cause(ctx))
		}
		if attempt >= maxAttempts {
			r.log.Warn("capability failed", "capability", name, "attempts", attempt, "cost", desc.Cost.String(), "error", err)
			return nil, attempt, errors.NewCapabilityError(name, attempt, err)
		}
		r.res.Retries[name]++
		r.log.Warn("capability failed; retrying", "capability", name, "attempt", attempt, "error", err)
	}
}

// call runs one attempt. The capability runs on its own goroutine so a call
// that ignores its context still cannot hold the loop past the timeout.
func (r *run) call(ctx context.Context, c capability.Capability, args capability.Args) (capability.Output, error) {
	callCtx := ctx
	if r.d.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.d.opts.CallTimeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		out, err := c.Invoke(callCtx, args)
		done <- callResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-callCtx.Done():
		err := callCtx.Err()
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s: %w", r.d.opts.CallTimeout, err)
		}
		return nil, err
	}
}

func (r *run) transition(to State, capabilityName string) {
	from := r.res.State
	r.res.Trace = append(r.res.Trace, Transition{From: from, To: to, Capability: capabilityName, At: time.Now()})
	r.res.State = to
	r.log.Debug("state transition", "from", string(from), "to", string(to), "capability", capabilityName)
}

func (r *run) fail(err error) (*Result, error) {
	var de *errors.DirectorError
	if !stderrors.As(err, &de) {
		de = errors.NewInternal(err)
	}
	r.transition(Failed, "")
	r.res.Err = de
	r.res.Findings = r.acc.Snapshot().Findings()
	r.log.Error("request failed", "code", string(de.Code), "error", de.Message, "rounds", r.res.Rounds)
	return r.res, de
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}
