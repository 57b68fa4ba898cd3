package domain

import "encoding/json"

// FieldUID is the external identity reference a user is addressed by.
const FieldUID = "uid"

// User is an external identity plus opaque profile attributes. At most one
// record exists per UID; creation is idempotent and users are never
// mutated or deleted afterwards.
type User struct {
	UID   string `validate:"required"`
	Attrs map[string]any
}

func (u User) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Attrs)+1)
	for k, v := range u.Attrs {
		out[k] = v
	}
	out[FieldUID] = u.UID
	return json.Marshal(out)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw[FieldUID]; ok {
		if err := json.Unmarshal(v, &u.UID); err != nil {
			return err
		}
	}
	u.Attrs = make(map[string]any)
	for k, v := range raw {
		if k == FieldUID {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		u.Attrs[k] = val
	}
	return nil
}
