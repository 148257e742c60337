package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StageEntry pairs a stage name with its execution record.
type StageEntry struct {
	Name string
	Exec *StageExecution
}

// StageList keeps stages in declaration order. It encodes as a JSON object
// whose key order is the execution order.
type StageList []StageEntry

// Get returns the execution record for name, or nil.
func (l StageList) Get(name string) *StageExecution {
	for _, entry := range l {
		if entry.Name == name {
			return entry.Exec
		}
	}
	return nil
}

// Index returns the position of name, or -1.
func (l StageList) Index(name string) int {
	for i, entry := range l {
		if entry.Name == name {
			return i
		}
	}
	return -1
}

// Names lists stage names in order.
func (l StageList) Names() []string {
	names := make([]string, 0, len(l))
	for _, entry := range l {
		names = append(names, entry.Name)
	}
	return names
}

// Add appends a pending stage. Names must be unique and non-empty.
func (l *StageList) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty stage name", ErrInvalidJob)
	}
	if l.Get(name) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}
	*l = append(*l, StageEntry{Name: name, Exec: &StageExecution{Status: StatusPending}})
	return nil
}

func (l StageList) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(l), func(i int) (string, any) { return l[i].Name, l[i].Exec })
}

// marshalOrdered writes n key/value pairs as a JSON object in index order.
func marshalOrdered(n int, pair func(int) (string, any)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < n; i++ {
		name, v := pair(i)
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode stage %s: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l *StageList) UnmarshalJSON(data []byte) error {
	var out StageList
	err := unmarshalOrdered(data, func(name string, dec *json.Decoder) error {
		if out.Get(name) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
		}
		exec := &StageExecution{}
		if err := dec.Decode(exec); err != nil {
			return err
		}
		out = append(out, StageEntry{Name: name, Exec: exec})
		return nil
	})
	if err != nil {
		return err
	}
	*l = out
	return nil
}

// unmarshalOrdered walks a JSON object in document order, handing each key
// to fn with the decoder positioned at its value. null decodes as empty.
func unmarshalOrdered(data []byte, fn func(name string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stages: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("stages: expected key, got %v", keyTok)
		}
		if err := fn(name, dec); err != nil {
			return fmt.Errorf("stages: decode %s: %w", name, err)
		}
	}
	_, err = dec.Token()
	return err
}
