package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10"`
}

// Clamp caps Limit at max. Zero means unbounded and is kept.
func (p Pagination) Clamp(max int) Pagination {
	if p.Limit > max {
		p.Limit = max
	}
	return p
}

// Cursor points at the last row of the previous page in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// EncodeCursor returns an opaque, URL-safe token.
func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Page trims rows fetched with limit+1 down to limit and reports whether
// another page exists. A zero limit returns rows unchanged.
func Page[T any](rows []*T, limit int, cursorOf func(*T) Cursor) ([]*T, *PageInfo, error) {
	info := &PageInfo{}
	if limit <= 0 || len(rows) <= limit {
		return rows, info, nil
	}

	rows = rows[:limit]
	next, err := EncodeCursor(cursorOf(rows[limit-1]))
	if err != nil {
		return nil, nil, err
	}
	info.HasMore = true
	info.NextCursor = next
	return rows, info, nil
}
