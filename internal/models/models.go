package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LogRecord is one observation from a chip. Fields holds the sensor payload,
// which is opaque to everything except the PDF report.
type LogRecord struct {
	ChipID    string
	Timestamp int64 // ms since epoch
	Fields    map[string]any
}

type RecordKey struct {
	ChipID    string
	Timestamp int64
}

func (r LogRecord) Key() RecordKey {
	return RecordKey{ChipID: r.ChipID, Timestamp: r.Timestamp}
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s@%d", k.ChipID, k.Timestamp)
}

var (
	ErrMissingChipID    = errors.New("record has no chip_id")
	ErrInvalidTimestamp = errors.New("record has no valid timestamp")
)

// MarshalJSON flattens the payload next to chip_id and timestamp,
// which is the shape the log API stores and serves.
func (r LogRecord) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["chip_id"] = r.ChipID
	flat["timestamp"] = r.Timestamp
	return json.Marshal(flat)
}

func (r *LogRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return err
	}
	if flat == nil {
		return fmt.Errorf("record is not an object")
	}

	chipID, ok := flat["chip_id"].(string)
	if !ok || chipID == "" {
		return ErrMissingChipID
	}
	ts, err := ParseTimestamp(flat["timestamp"])
	if err != nil {
		return err
	}
	delete(flat, "chip_id")
	delete(flat, "timestamp")

	for k, v := range flat {
		flat[k] = normalizeNumber(v)
	}

	r.ChipID = chipID
	r.Timestamp = ts
	r.Fields = flat
	return nil
}

// ParseTimestamp accepts the forms a timestamp shows up in on the wire:
// JSON numbers (integral, possibly in exponent form) and numeric strings.
func ParseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return ParseTimestamp(t.String())
	case float64:
		if t != math.Trunc(t) || t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, ErrInvalidTimestamp
		}
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ErrInvalidTimestamp
		}
		return ParseTimestamp(f)
	default:
		return 0, ErrInvalidTimestamp
	}
}

func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

type NameEntry struct {
	ChipID string `json:"chip_id"`
	Name   string `json:"name"`
}

// IsSet reports whether the entry carries a usable name.
func (n NameEntry) IsSet() bool {
	return strings.TrimSpace(n.Name) != ""
}

// DisplayName is either an assigned name or unresolved. Only the unresolved
// form renders the placeholder, so a placeholder can never be wrapped twice.
type DisplayName struct {
	chipID   string
	name     string
	assigned bool
}

func Assigned(name string) DisplayName {
	return DisplayName{name: name, assigned: true}
}

func Unresolved(chipID string) DisplayName {
	return DisplayName{chipID: chipID}
}

func (d DisplayName) IsAssigned() bool { return d.assigned }

// Name returns the assigned name, or "" when unresolved.
func (d DisplayName) Name() string {
	if !d.assigned {
		return ""
	}
	return d.name
}

func (d DisplayName) String() string {
	if d.assigned {
		return d.name
	}
	return Placeholder(d.chipID)
}

func Placeholder(chipID string) string {
	return "Unknown Chip (" + chipID + ")"
}

type DeviceView struct {
	ChipID  string
	Name    DisplayName
	Records []LogRecord
}

// Artifact is a generated export ready to be written to disk or a response.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

func DefaultExportFilename(k RecordKey) string {
	return fmt.Sprintf("log_report_%s_%d.pdf", k.ChipID, k.Timestamp)
}

// BuddhistEraOffset converts a Gregorian year to the Thai solar calendar.
const BuddhistEraOffset = 543

// BuddhistEraDate renders t as dd/mm/yyyy with the year in the Buddhist Era.
func BuddhistEraDate(t time.Time) string {
	return fmt.Sprintf("%02d/%02d/%d", t.Day(), int(t.Month()), t.Year()+BuddhistEraOffset)
}
