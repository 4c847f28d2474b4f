package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// OfficerPerfList stores per-officer performance lines as a JSONB column.
type OfficerPerfList []OfficerPerformance

// Value implements driver.Valuer.
func (l OfficerPerfList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal officer performance list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *OfficerPerfList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for officer performance list: %T", src)
	}

	return json.Unmarshal(data, l)
}
