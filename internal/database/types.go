package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice stores a []string as a JSON text column so the feature list
// survives both sqlite and postgres without a join table.
type StringSlice []string

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}

	return json.Unmarshal(data, s)
}

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return json.Marshal([]string{})
	}
	return json.Marshal(s)
}
