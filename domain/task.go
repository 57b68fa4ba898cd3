package domain

import (
	"encoding/json"
	"time"
)

// Field names owned by the server. Everything else on a task payload is
// treated as an opaque client attribute and carried through unchanged.
const (
	FieldID        = "id"
	FieldCategory  = "category"
	FieldPosition  = "position"
	FieldTimestamp = "timestamp"
)

// Task represents a single board item. Category and position drive the
// column/ordering model; Attrs holds whatever else the client sent
// (title, description, ...) and is opaque to the server.
type Task struct {
	ID        string
	Category  string
	Position  int
	Timestamp time.Time
	Attrs     map[string]any
}

// MarshalJSON flattens client attributes next to the typed fields so the
// wire shape matches what clients originally submitted.
func (t Task) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Attrs)+4)
	for k, v := range t.Attrs {
		out[k] = v
	}
	out[FieldID] = t.ID
	out[FieldCategory] = t.Category
	out[FieldPosition] = t.Position
	out[FieldTimestamp] = t.Timestamp
	return json.Marshal(out)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw[FieldID]; ok {
		if err := json.Unmarshal(v, &t.ID); err != nil {
			return err
		}
	}
	if v, ok := raw[FieldCategory]; ok {
		if err := json.Unmarshal(v, &t.Category); err != nil {
			return err
		}
	}
	if v, ok := raw[FieldPosition]; ok {
		if err := json.Unmarshal(v, &t.Position); err != nil {
			return err
		}
	}
	if v, ok := raw[FieldTimestamp]; ok {
		if err := json.Unmarshal(v, &t.Timestamp); err != nil {
			return err
		}
	}
	t.Attrs = attrsFromRaw(raw)
	return nil
}

// TaskDraft carries the client-supplied fields of a new task. Position is
// optional and defaults to 0, which places the task at the head of its
// category and may collide with an existing head task; ordering falls back
// to the creation-time tie-break in that case.
type TaskDraft struct {
	Category string `validate:"required"`
	Position *int
	Attrs    map[string]any
}

func (d *TaskDraft) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw[FieldCategory]; ok {
		if err := json.Unmarshal(v, &d.Category); err != nil {
			return err
		}
	}
	if v, ok := raw[FieldPosition]; ok {
		d.Position = new(int)
		if err := json.Unmarshal(v, d.Position); err != nil {
			return err
		}
	}
	d.Attrs = attrsFromRaw(raw)
	return nil
}

// Build materializes the draft into a full task record.
func (d TaskDraft) Build(id string, now time.Time) Task {
	t := Task{ID: id, Category: d.Category, Timestamp: now, Attrs: d.Attrs}
	if d.Position != nil {
		t.Position = *d.Position
	}
	if t.Attrs == nil {
		t.Attrs = map[string]any{}
	}
	return t
}

// TaskPatch carries a partial update. Nil fields are left untouched;
// attribute entries overwrite the matching keys and leave the rest alone.
type TaskPatch struct {
	Category *string
	Position *int
	Attrs    map[string]any
}

func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw[FieldCategory]; ok {
		p.Category = new(string)
		if err := json.Unmarshal(v, p.Category); err != nil {
			return err
		}
	}
	if v, ok := raw[FieldPosition]; ok {
		p.Position = new(int)
		if err := json.Unmarshal(v, p.Position); err != nil {
			return err
		}
	}
	p.Attrs = attrsFromRaw(raw)
	return nil
}

// Apply merges the patch onto a task and returns the merged record. The
// input task is not mutated; its attribute map is copied first.
func (p TaskPatch) Apply(t Task) Task {
	merged := t
	merged.Attrs = make(map[string]any, len(t.Attrs)+len(p.Attrs))
	for k, v := range t.Attrs {
		merged.Attrs[k] = v
	}
	for k, v := range p.Attrs {
		merged.Attrs[k] = v
	}
	if p.Category != nil {
		merged.Category = *p.Category
	}
	if p.Position != nil {
		merged.Position = *p.Position
	}
	return merged
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Category == nil && p.Position == nil && len(p.Attrs) == 0
}

func attrsFromRaw(raw map[string]json.RawMessage) map[string]any {
	attrs := make(map[string]any)
	for k, v := range raw {
		switch k {
		case FieldID, FieldCategory, FieldPosition, FieldTimestamp:
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		attrs[k] = val
	}
	return attrs
}
