package portal

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Field is the result of reading one value from a page: either a present
// string or an absence with the reason it could not be read. The zero Field
// is absent.
type Field struct {
	value  string
	reason string
	ok     bool
}

// Present wraps a read value.
func Present(v string) Field { return Field{value: v, ok: true} }

// Absent records why a value could not be read.
func Absent(reason string) Field { return Field{reason: reason} }

// Value returns the value and whether it is present.
func (f Field) Value() (string, bool) { return f.value, f.ok }

// IsPresent reports whether the field holds a value.
func (f Field) IsPresent() bool { return f.ok }

// Err is nil for a present field and wraps ErrFieldAbsent otherwise.
func (f Field) Err() error {
	if f.ok {
		return nil
	}
	if f.reason == "" {
		return ErrFieldAbsent
	}
	return fmt.Errorf("%w: %s", ErrFieldAbsent, f.reason)
}

// Or returns the value, or def when absent.
func (f Field) Or(def string) string {
	if f.ok {
		return f.value
	}
	return def
}

// Null maps the field onto a nullable SQL string.
func (f Field) Null() sql.NullString {
	return sql.NullString{String: f.value, Valid: f.ok}
}

// FromNull is the inverse of Null.
func FromNull(ns sql.NullString) Field {
	if !ns.Valid {
		return Absent("null")
	}
	return Present(ns.String)
}

func (f Field) String() string {
	if f.ok {
		return f.value
	}
	return "<absent>"
}

// MarshalJSON encodes an absent field as null.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// UnmarshalJSON decodes null as absent.
func (f *Field) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Absent("null")
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = Present(s)
	return nil
}
