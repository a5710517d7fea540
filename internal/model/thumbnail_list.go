package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// ThumbnailList is stored as a JSON array, newest thumbnail first
type ThumbnailList []Thumbnail

// Value implements the driver.Valuer interface.
func (l ThumbnailList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}

	b, err := json.Marshal([]Thumbnail(l))
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnails, %w", err)
	}

	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (l *ThumbnailList) Scan(value interface{}) error {
	if value == nil {
		*l = ThumbnailList{}
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("failed to scan ThumbnailList, %v", value)
	}

	if len(b) == 0 {
		*l = ThumbnailList{}
		return nil
	}

	var out []Thumbnail
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("failed to decode thumbnails, %w", err)
	}

	*l = out
	return nil
}

// Prepend puts t at the head of the list
func (l ThumbnailList) Prepend(t Thumbnail) ThumbnailList {
	return append(ThumbnailList{t}, l...)
}

func (ThumbnailList) GormDataType() string {
	return "text"
}
