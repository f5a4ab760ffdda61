package assemble

import (
	"bytes"
	"encoding/json"
)

// Record is one row of a table together with the associations loaded for it.
// Columns keep statement order; associations keep the order they were attached.
type Record struct {
	Table   string
	Columns []string
	Values  []any

	slots []slot
}

type slot struct {
	key     string
	many    bool
	one     *Record
	records []*Record
}

// Get returns the value of column.
func (r *Record) Get(column string) (any, bool) {
	for i, col := range r.Columns {
		if col == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// One returns the record attached under key, or nil when the association
// matched nothing or key is not a to-one slot.
func (r *Record) One(key string) *Record {
	if s := r.slot(key); s != nil && !s.many {
		return s.one
	}
	return nil
}

// Many returns the records attached under key in statement order. The slice
// is empty, not nil, when the association matched nothing.
func (r *Record) Many(key string) []*Record {
	if s := r.slot(key); s != nil && s.many {
		return s.records
	}
	return nil
}

// Has reports whether an association was attached under key.
func (r *Record) Has(key string) bool {
	return r.slot(key) != nil
}

// Keys lists the association keys attached to the record.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.slots))
	for i, s := range r.slots {
		keys[i] = s.key
	}
	return keys
}

func (r *Record) slot(key string) *slot {
	for i := range r.slots {
		if r.slots[i].key == key {
			return &r.slots[i]
		}
	}
	return nil
}

func (r *Record) setOne(key string, one *Record) {
	if s := r.slot(key); s != nil {
		s.many, s.one, s.records = false, one, nil
		return
	}
	r.slots = append(r.slots, slot{key: key, one: one})
}

func (r *Record) setMany(key string, records []*Record) {
	if records == nil {
		records = []*Record{}
	}
	if s := r.slot(key); s != nil {
		s.many, s.one, s.records = true, nil, records
		return
	}
	r.slots = append(r.slots, slot{key: key, many: true, records: records})
}

// MarshalJSON renders columns followed by associations, each in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(name string, value any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}

	for i, col := range r.Columns {
		if err := field(col, r.Values[i]); err != nil {
			return nil, err
		}
	}
	for _, s := range r.slots {
		var value any = s.one
		if s.many {
			value = s.records
		}
		if err := field(s.key, value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
