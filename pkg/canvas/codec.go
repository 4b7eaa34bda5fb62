package canvas

import (
	"github.com/taskmesh/taskmesh/internal/pkg/encoding/json"
)

// ToMap converts the signature to a JSON-representable mapping,
// so it can travel inside the kwargs of a control task.
func (s *Signature) ToMap() (map[string]any, error) {
	data, err := json.Encode(s, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Decode(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SignatureFromMap is the inverse of Signature.ToMap.
func SignatureFromMap(m map[string]any) (*Signature, error) {
	data, err := json.Encode(m, false)
	if err != nil {
		return nil, err
	}
	out := &Signature{}
	if err := json.Decode(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
