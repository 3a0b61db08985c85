package github

import (
	"encoding/json"
	"strings"
	"time"
)

// Item is a semi-structured API payload: one commit, review or comment as
// the server sent it. Keeping these loose decouples fetching from the
// warehouse schema; narrow field extraction happens at row-preparation
// time, not here.
type Item map[string]any

// itemize converts a typed go-github slice to Items via one JSON round
// trip, preserving the upstream field names.
func itemize(v any) ([]Item, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// toItem converts a single typed value to an Item.
func toItem(v any) (Item, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// String walks nested keys and returns the string at the end of the path,
// or "" when any hop is missing or not a map.
func (it Item) String(keys ...string) string {
	v := it.value(keys)
	s, _ := v.(string)
	return s
}

// Int64 walks nested keys and returns the number at the end of the path.
// JSON numbers decode as float64, so both forms are accepted.
func (it Item) Int64(keys ...string) int64 {
	switch v := it.value(keys).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// Time parses the RFC3339 timestamp at the end of the path. A trailing Z
// is valid RFC3339 and parses as UTC. Returns the zero time when the field
// is absent or malformed.
func (it Item) Time(keys ...string) time.Time {
	s := it.String(keys...)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Has reports whether the path exists with a non-nil value.
func (it Item) Has(keys ...string) bool {
	return it.value(keys) != nil
}

func (it Item) value(keys []string) any {
	var cur any = map[string]any(it)
	for _, key := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// ParseTimestamp parses an ISO-8601 timestamp as emitted by the API.
// A trailing literal Z is accepted as the UTC offset.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}
