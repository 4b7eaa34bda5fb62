package canvas

// Walk visits every signature in the tree, including composite members,
// chord bodies and callbacks, parents before children.
func (s *Signature) Walk(fn func(*Signature)) {
	fn(s)
	for _, member := range s.Tasks {
		member.Walk(fn)
	}
	if s.Body != nil {
		s.Body.Walk(fn)
	}
	for _, cb := range s.OnSuccess {
		cb.Walk(fn)
	}
	for _, cb := range s.OnError {
		cb.Walk(fn)
	}
}

// TailLeaf returns the leaf whose terminal state completes the whole
// signature: the signature itself, the tail of the last chain step, or
// the tail of the chord body. A group has no single tail, nil is returned.
func (s *Signature) TailLeaf() *Signature {
	switch s.Kind {
	case KindSingle:
		return s
	case KindChain:
		if len(s.Tasks) == 0 {
			return nil
		}
		return s.Tasks[len(s.Tasks)-1].TailLeaf()
	case KindChord:
		if s.Body == nil {
			return nil
		}
		return s.Body.TailLeaf()
	default:
		return nil
	}
}

// HeadLeaves returns the leaves that are enqueued first when the
// signature is dispatched.
func (s *Signature) HeadLeaves() []*Signature {
	switch s.Kind {
	case KindSingle:
		return []*Signature{s}
	case KindChain:
		if len(s.Tasks) == 0 {
			return nil
		}
		return s.Tasks[0].HeadLeaves()
	case KindGroup, KindChord:
		var out []*Signature
		for _, member := range s.Tasks {
			out = append(out, member.HeadLeaves()...)
		}
		return out
	default:
		return nil
	}
}
