package canvas

// Names of the control tasks backing batched signatures and chord polling.
// Their implementations are registered by the registry and worker packages.
const (
	BuiltinMap         = "taskmesh.map"
	BuiltinStarmap     = "taskmesh.starmap"
	BuiltinChunk       = "taskmesh.chunk"
	BuiltinChordUnlock = "taskmesh.chord_unlock"
)

// Map creates a signature of a single message that invokes the task once
// per item, sequentially in one worker, and returns the list of results.
// It trades parallelism for reduced messaging overhead.
func Map(task string, items []any) *Signature {
	return &Signature{
		Kind:   KindSingle,
		Task:   BuiltinMap,
		Kwargs: map[string]any{"task": task, "items": items},
	}
}

// Starmap is like Map, but every item is a list of positional arguments
// for one invocation of the task.
func Starmap(task string, items [][]any) *Signature {
	return &Signature{
		Kind:   KindSingle,
		Task:   BuiltinStarmap,
		Kwargs: map[string]any{"task": task, "items": starmapItems(items)},
	}
}

// Chunks partitions the items into ceil(len(items)/size) batch signatures,
// every batch processes up to size items sequentially in one message.
type Chunks struct {
	task  string
	items [][]any
	size  int
}

func NewChunks(task string, items [][]any, size int) *Chunks {
	if size <= 0 {
		size = 1
	}
	return &Chunks{task: task, items: items, size: size}
}

// Group converts the chunks to a group of batch signatures,
// the last chunk may be smaller than the chunk size.
func (c *Chunks) Group() *Signature {
	var members []*Signature
	for start := 0; start < len(c.items); start += c.size {
		end := start + c.size
		if end > len(c.items) {
			end = len(c.items)
		}
		members = append(members, &Signature{
			Kind:   KindSingle,
			Task:   BuiltinChunk,
			Kwargs: map[string]any{"task": c.task, "items": starmapItems(c.items[start:end])},
		})
	}
	return NewGroup(members...)
}

// Skew assigns a monotonically increasing countdown to the group members,
// spreading their dispatch over time: start, start+step, start+2*step, ...
// It is a no-op for other signature kinds.
func (s *Signature) Skew(start, step float64) *Signature {
	if s.Kind != KindGroup && s.Kind != KindChord {
		return s
	}
	countdown := start
	for _, member := range s.Tasks {
		member.Options = member.Options.Merge(Options{OptCountdown: countdown})
		countdown += step
	}
	return s
}

// starmapItems converts the argument lists to a JSON-stable []any value.
func starmapItems(items [][]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = any(item)
	}
	return out
}
