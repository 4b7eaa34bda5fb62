package canvas

// NewChain creates a sequential composition of the given signatures.
// Nested chains are flattened. A group followed by another step is
// upgraded to a chord with the group as the header, so forwarding a
// group's results into a following task always goes through the chord
// synchronization, never through plain linking.
func NewChain(tasks ...*Signature) *Signature {
	var steps []*Signature
	for _, t := range tasks {
		if t.Kind == KindChain && len(t.OnSuccess) == 0 && len(t.OnError) == 0 && len(t.Options) == 0 {
			// Inline a plain nested chain.
			for _, step := range t.Tasks {
				steps = append(steps, step.Clone())
			}
		} else {
			steps = append(steps, t.Clone())
		}
	}

	// Fold groups followed by a continuation into chords, right to left.
	var out []*Signature
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Kind == KindGroup && len(out) > 0 {
			body := out[0]
			if len(out) > 1 {
				body = &Signature{Kind: KindChain, Tasks: out}
			}
			out = []*Signature{newChordNoClone(step, body)}
		} else {
			out = append([]*Signature{step}, out...)
		}
	}

	if len(out) == 1 {
		return out[0]
	}
	return &Signature{Kind: KindChain, Tasks: out}
}

// NewGroup creates a parallel, index-ordered composition of the given signatures.
// Nested plain groups are flattened, the construction order of members is the
// order used for final result assembly.
func NewGroup(tasks ...*Signature) *Signature {
	var members []*Signature
	for _, t := range tasks {
		if t.Kind == KindGroup && len(t.OnSuccess) == 0 && len(t.OnError) == 0 && len(t.Options) == 0 {
			for _, member := range t.Tasks {
				members = append(members, member.Clone())
			}
		} else {
			members = append(members, t.Clone())
		}
	}
	return &Signature{Kind: KindGroup, Tasks: members}
}

// NewChord creates a chord: the body executes once, after every header
// member reached a terminal state, receiving the ordered header results.
// A non-group header is coerced to a single-member group.
func NewChord(header *Signature, body *Signature) *Signature {
	return newChordNoClone(headerGroup(header.Clone()), body.Clone())
}

// newChordNoClone builds the chord from an already cloned header and
// body. Callbacks linked on the header carry over to the chord, the
// upgrade must not drop them.
func newChordNoClone(header *Signature, body *Signature) *Signature {
	header = headerGroup(header)
	return &Signature{
		Kind:      KindChord,
		Tasks:     header.Tasks,
		Options:   header.Options,
		OnSuccess: header.OnSuccess,
		OnError:   header.OnError,
		Body:      body,
	}
}

func headerGroup(s *Signature) *Signature {
	if s.Kind == KindGroup {
		return s
	}
	return &Signature{Kind: KindGroup, Tasks: []*Signature{s}}
}

// Then is the piping operation: it sequences b after a and returns the
// composite. Inputs are not modified. Piping anything onto a group
// upgrades the pairing to a chord with the group as the header.
func Then(a, b *Signature) *Signature {
	switch a.Kind {
	case KindGroup:
		return NewChord(a, b)
	case KindChain:
		return NewChain(append(append([]*Signature{}, a.Tasks...), b)...)
	default:
		return NewChain(a, b)
	}
}

// Then sequences next after the signature, see the Then function.
func (s *Signature) Then(next *Signature) *Signature {
	return Then(s, next)
}
