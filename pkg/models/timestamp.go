package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp is a wall-clock instant as serialised by the record store.
// The store returns "" for unset optional date fields; that normalises to
// the zero value here instead of leaking empty strings into the domain.
type Timestamp struct {
	time.Time
}

// Store wire formats, most specific first. The store writes a space-separated
// UTC form; we emit RFC 3339 which it also accepts.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.000Z",
	"2006-01-02 15:04:05Z",
}

// NewTimestamp wraps t, normalising to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// IsSet reports whether the field was present on the wire.
func (t Timestamp) IsSet() bool { return !t.IsZero() }

// MarshalJSON writes RFC 3339 UTC, or "" when unset.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON accepts the store's date formats and treats "" as absent.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}
