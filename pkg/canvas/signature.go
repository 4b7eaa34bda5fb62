// Package canvas provides the workflow-composition primitives:
// the Signature value describing one task invocation, and the
// Chain, Group and Chord combinators built on top of it.
//
// Signature is a pure value up to the point of dispatch. All
// combinators operate on clones, so composing signatures never
// shares mutable state between values.
package canvas

import (
	"github.com/keboola/go-utils/pkg/deepcopy"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

// Kind distinguishes the variants of the closed signature algebra.
type Kind string

const (
	KindSingle Kind = "single"
	KindChain  Kind = "chain"
	KindGroup  Kind = "group"
	KindChord  Kind = "chord"
)

// Signature is a template of one task invocation, or a composite of them.
// Composites (chain, group, chord) are signatures themselves, so they can
// be nested arbitrarily and share the same operations.
type Signature struct {
	Kind Kind   `json:"kind" validate:"required,oneof=single chain group chord"`
	Task string `json:"task,omitempty" validate:"required_if=Kind single"`

	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Options   Options        `json:"options,omitempty"`
	Immutable bool           `json:"immutable,omitempty"`

	// OnSuccess callbacks are dispatched with the return value prepended to their args.
	OnSuccess []*Signature `json:"onSuccess,omitempty"`
	// OnError callbacks are dispatched with the failed task ID as the only argument.
	OnError []*Signature `json:"onError,omitempty"`

	// Tasks are chain steps, group members, or chord header members.
	Tasks []*Signature `json:"tasks,omitempty"`
	// Body is the chord callback, nil for other kinds.
	Body *Signature `json:"body,omitempty"`

	// Delivery metadata, empty until the signature is frozen at dispatch time.
	ID             string     `json:"id,omitempty"`
	ParentID       string     `json:"parentId,omitempty"`
	GroupID        string     `json:"groupId,omitempty"`
	GroupIndex     int        `json:"groupIndex,omitempty"`
	GroupTaskCount int        `json:"groupTaskCount,omitempty"`
	ChordCallback  *Signature `json:"chordCallback,omitempty"`
}

// NewSignature creates a mutable signature of a single task invocation.
func NewSignature(task string, args []any, kwargs map[string]any) *Signature {
	return &Signature{Kind: KindSingle, Task: task, Args: args, Kwargs: kwargs}
}

// Clone returns an independent deep copy of the signature.
func (s *Signature) Clone() *Signature {
	return deepcopy.Copy(s).(*Signature)
}

// CloneWith returns a clone with the extra arguments merged in:
// extra args are prepended, extra kwargs and options take precedence
// over the existing values on key collision. On a composite the payload
// is routed to the members that consume it, the first step of a chain,
// every member of a group or a chord header, options stay on the
// composite itself.
func (s *Signature) CloneWith(args []any, kwargs map[string]any, opts Options) *Signature {
	clone := s.Clone()
	switch clone.Kind {
	case KindChain:
		if len(clone.Tasks) > 0 {
			clone.Tasks[0] = clone.Tasks[0].WithArgs(args, kwargs, nil)
		}
		clone.Options = clone.Options.Merge(opts)
	case KindGroup, KindChord:
		for i, member := range clone.Tasks {
			clone.Tasks[i] = member.WithArgs(args, kwargs, nil)
		}
		clone.Options = clone.Options.Merge(opts)
	default:
		clone.Args = append(append([]any{}, args...), clone.Args...)
		clone.Kwargs = mergeKwargs(clone.Kwargs, kwargs)
		clone.Options = clone.Options.Merge(opts)
	}
	return clone
}

// WithArgs merges dispatch-time arguments per the call contract:
// a mutable signature gets extra args prepended and kwargs merged,
// an immutable signature drops the extra payload entirely.
// Extra options always merge, immutability constrains only the payload.
func (s *Signature) WithArgs(args []any, kwargs map[string]any, opts Options) *Signature {
	if s.Immutable {
		clone := s.Clone()
		clone.Options = clone.Options.Merge(opts)
		return clone
	}
	return s.CloneWith(args, kwargs, opts)
}

// Set merges execution options into the signature and returns it for chaining.
// It does not touch args/kwargs, so it works for immutable signatures too.
func (s *Signature) Set(opts Options) *Signature {
	s.Options = s.Options.Merge(opts)
	return s
}

// SetImmutable marks the signature payload as closed to forwarded values.
func (s *Signature) SetImmutable(v bool) *Signature {
	s.Immutable = v
	return s
}

// Link appends a success callback and returns the signature for chaining.
func (s *Signature) Link(callback *Signature) *Signature {
	s.OnSuccess = append(s.OnSuccess, callback.Clone())
	return s
}

// LinkError appends a failure callback and returns the signature for chaining.
func (s *Signature) LinkError(callback *Signature) *Signature {
	s.OnError = append(s.OnError, callback.Clone())
	return s
}

func (s *Signature) IsComposite() bool {
	return s.Kind != KindSingle
}

func (s *Signature) IsFrozen() bool {
	return s.ID != ""
}

// Validate checks the structural invariants of the signature tree.
func (s *Signature) Validate() error {
	switch s.Kind {
	case KindSingle:
		if s.Task == "" {
			return errors.New("single signature must have a task name")
		}
	case KindChain, KindGroup:
		if len(s.Tasks) == 0 {
			return errors.Errorf("%s signature must have at least one member", s.Kind)
		}
	case KindChord:
		if len(s.Tasks) == 0 {
			return errors.New("chord signature must have a non-empty header")
		}
		if s.Body == nil {
			return errors.New("chord signature must have a body")
		}
	default:
		return errors.Errorf(`unexpected signature kind "%s"`, s.Kind)
	}
	if err := s.Options.Validate(); err != nil {
		return err
	}
	for _, member := range s.Tasks {
		if err := member.Validate(); err != nil {
			return err
		}
	}
	if s.Body != nil {
		if err := s.Body.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func mergeKwargs(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
