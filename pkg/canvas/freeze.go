package canvas

import (
	"github.com/taskmesh/taskmesh/internal/pkg/idgenerator"
	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

// Freeze assigns delivery metadata to the signature tree: task ids,
// parent threading between chain steps, group ids, and the chord
// accounting fields on the header members' tail leaves. It is
// idempotent, already assigned ids are kept, so re-dispatch of a frozen
// signature addresses the same result records.
func (s *Signature) Freeze() error {
	switch s.Kind {
	case KindSingle:
		if s.ID == "" {
			s.ID = idgenerator.TaskID()
		}

	case KindChain:
		for _, step := range s.Tasks {
			if err := step.Freeze(); err != nil {
				return err
			}
		}
		for i := 1; i < len(s.Tasks); i++ {
			prev := s.Tasks[i-1].TailLeaf()
			if prev == nil {
				return errors.New("chain step has no tail task, wrap the group in a chord")
			}
			for _, head := range s.Tasks[i].HeadLeaves() {
				if head.ParentID == "" {
					head.ParentID = prev.ID
				}
			}
		}
		// The chain completes when its last tail completes.
		if tail := s.TailLeaf(); tail != nil {
			s.ID = tail.ID
		}

	case KindGroup:
		if s.GroupID == "" {
			s.GroupID = idgenerator.GroupID()
		}
		for i, member := range s.Tasks {
			if err := member.Freeze(); err != nil {
				return err
			}
			tail := member.TailLeaf()
			if tail == nil {
				return errors.Errorf("group member %d has no tail task, wrap the nested group in a chord", i)
			}
			tail.GroupID = s.GroupID
			tail.GroupIndex = i
		}

	case KindChord:
		if s.GroupID == "" {
			s.GroupID = idgenerator.GroupID()
		}
		if err := s.Body.Freeze(); err != nil {
			return err
		}
		bodyTail := s.Body.TailLeaf()
		if bodyTail == nil {
			return errors.New("chord body has no tail task")
		}
		// The body id addresses the state record the chord result reads,
		// and the record the synchronization fails on exhaustion.
		s.Body.ID = bodyTail.ID
		s.ID = bodyTail.ID
		for i, member := range s.Tasks {
			if err := member.Freeze(); err != nil {
				return err
			}
			tail := member.TailLeaf()
			if tail == nil {
				return errors.Errorf("chord header member %d has no tail task, wrap the nested group in a chord", i)
			}
			tail.GroupID = s.GroupID
			tail.GroupIndex = i
			tail.GroupTaskCount = len(s.Tasks)
			tail.ChordCallback = s.Body
		}

	default:
		return errors.Errorf(`unexpected signature kind "%s"`, s.Kind)
	}
	return nil
}
