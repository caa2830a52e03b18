package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// UUIDArray is a discount's product allow-list. Postgres stores it as uuid[];
// sqlite keeps the same array literal in a text column.
type UUIDArray []uuid.UUID

func (UUIDArray) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "uuid[]"
	}
	return "text"
}

// Contains reports whether id is on the list.
func (a UUIDArray) Contains(id uuid.UUID) bool {
	for _, candidate := range a {
		if candidate == id {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every id is on the list. An empty ids is trivially covered.
func (a UUIDArray) ContainsAll(ids []uuid.UUID) bool {
	for _, id := range ids {
		if !a.Contains(id) {
			return false
		}
	}
	return true
}

// Value always encodes a literal, so an empty list is "{}" rather than NULL.
func (a UUIDArray) Value() (driver.Value, error) {
	strs := make(pq.StringArray, len(a))
	for i, id := range a {
		strs[i] = id.String()
	}
	return strs.Value()
}

func (a *UUIDArray) Scan(src any) error {
	if raw, ok := src.([]byte); ok && len(bytes.TrimSpace(raw)) == 0 {
		src = nil
	}
	if s, ok := src.(string); ok && s == "" {
		src = nil
	}

	var strs pq.StringArray
	if err := strs.Scan(src); err != nil {
		return fmt.Errorf("UUIDArray: %w", err)
	}
	out := make(UUIDArray, 0, len(strs))
	for _, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("UUIDArray: parse %q: %w", s, err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}
