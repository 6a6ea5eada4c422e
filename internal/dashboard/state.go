package dashboard

import (
	"slices"
	"strings"

	"github.com/glekoz/chipdash/internal/models"
)

// State is an immutable snapshot of the working set. Transitions return a
// new State and never touch the receiver, so a snapshot handed to a reader
// stays consistent no matter what happens afterwards.
type State struct {
	records []models.LogRecord
	index   map[models.RecordKey]int
	names   map[string]models.NameEntry
}

type DeviceGroup struct {
	ChipID  string
	Records []models.LogRecord
}

// NewState builds a snapshot from freshly fetched collections. A repeated
// (chip_id, timestamp) keeps the position of its first occurrence and the
// contents of its last one. Unset names are dropped.
func NewState(records []models.LogRecord, names []models.NameEntry) State {
	s := State{
		records: make([]models.LogRecord, 0, len(records)),
		index:   make(map[models.RecordKey]int, len(records)),
		names:   make(map[string]models.NameEntry, len(names)),
	}
	for _, r := range records {
		k := r.Key()
		if i, ok := s.index[k]; ok {
			s.records[i] = r
			continue
		}
		s.index[k] = len(s.records)
		s.records = append(s.records, r)
	}
	for _, n := range names {
		s.names = putName(s.names, n)
	}
	return s
}

func putName(names map[string]models.NameEntry, n models.NameEntry) map[string]models.NameEntry {
	key := joinKey(n.ChipID)
	if !n.IsSet() || strings.TrimSpace(n.Name) == models.Placeholder(n.ChipID) {
		delete(names, key)
		return names
	}
	names[key] = models.NameEntry{ChipID: n.ChipID, Name: strings.TrimSpace(n.Name)}
	return names
}

func joinKey(chipID string) string {
	return strings.ToLower(strings.TrimSpace(chipID))
}

func (s State) Len() int { return len(s.records) }

func (s State) Has(k models.RecordKey) bool {
	_, ok := s.index[k]
	return ok
}

func (s State) Records() []models.LogRecord {
	out := make([]models.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Names returns the directory ordered by chip_id.
func (s State) Names() []models.NameEntry {
	out := make([]models.NameEntry, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b models.NameEntry) int {
		return strings.Compare(a.ChipID, b.ChipID)
	})
	return out
}

// ResolveDisplayName joins on chip_id case-insensitively and falls back to
// the unresolved placeholder.
func (s State) ResolveDisplayName(chipID string) models.DisplayName {
	if n, ok := s.names[joinKey(chipID)]; ok {
		return models.Assigned(n.Name)
	}
	return models.Unresolved(chipID)
}

func (s State) Views() []models.DeviceView {
	groups := GroupByDevice(s.records)
	views := make([]models.DeviceView, 0, len(groups))
	for _, g := range groups {
		views = append(views, models.DeviceView{
			ChipID:  g.ChipID,
			Name:    s.ResolveDisplayName(g.ChipID),
			Records: g.Records,
		})
	}
	return views
}

func (s State) WithName(chipID, name string) State {
	names := make(map[string]models.NameEntry, len(s.names)+1)
	for k, v := range s.names {
		names[k] = v
	}
	return State{
		records: s.records,
		index:   s.index,
		names:   putName(names, models.NameEntry{ChipID: chipID, Name: name}),
	}
}

// WithoutRecord drops one record. The bool is false when the key is absent,
// in which case the receiver is returned unchanged.
func (s State) WithoutRecord(k models.RecordKey) (State, bool) {
	pos, ok := s.index[k]
	if !ok {
		return s, false
	}
	records := make([]models.LogRecord, 0, len(s.records)-1)
	records = append(records, s.records[:pos]...)
	records = append(records, s.records[pos+1:]...)

	index := make(map[models.RecordKey]int, len(records))
	for i, r := range records {
		index[r.Key()] = i
	}
	return State{records: records, index: index, names: s.names}, true
}

// GroupByDevice partitions records by chip_id. Groups come out in order of
// each chip's first appearance and keep arrival order inside a group.
func GroupByDevice(records []models.LogRecord) []DeviceGroup {
	var groups []DeviceGroup
	pos := make(map[string]int)
	for _, r := range records {
		i, ok := pos[r.ChipID]
		if !ok {
			i = len(groups)
			pos[r.ChipID] = i
			groups = append(groups, DeviceGroup{ChipID: r.ChipID})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}
