package host

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/rest"
)

const (
	selEnumeratePath = "/xyz/openbmc_project/logging/enumerate"
	selDeletePathFmt = "/xyz/openbmc_project/logging/entry/%s/action/Delete"
	selClearPath     = "/org/openbmc/records/events/action/clear"

	severityPrefix = "xyz.openbmc_project.Logging.Entry.Level."
	unitPrefix     = "xyz.openbmc_project.Sensor.Value.Unit."
)

var selEntryRe = regexp.MustCompile(`^/xyz/openbmc_project/logging/entry/(\d{1,})$`)

// LogEntry is one system event log entry.
type LogEntry struct {
	ID        string
	Message   string
	Severity  string
	Timestamp int64 // milliseconds since the epoch
	Resolved  bool
}

type logEntryObject struct {
	Message   string `json:"Message"`
	Severity  string `json:"Severity"`
	Timestamp int64  `json:"Timestamp"`
	Resolved  bool   `json:"Resolved"`
}

// ListSEL returns the event log entries ordered by id.
func (m *Manager) ListSEL(ctx context.Context) ([]LogEntry, error) {
	objects, err := m.api.Enumerate(ctx, selEnumeratePath)
	if err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(objects))
	for path, raw := range objects {
		match := selEntryRe.FindStringSubmatch(path)
		if match == nil {
			continue
		}
		var obj logEntryObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode log entry %s: %w", match[1], err)
		}
		entries = append(entries, LogEntry{
			ID:        match[1],
			Message:   obj.Message,
			Severity:  strings.TrimPrefix(obj.Severity, severityPrefix),
			Timestamp: obj.Timestamp,
			Resolved:  obj.Resolved,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return numericLess(entries[i].ID, entries[j].ID) })
	return entries, nil
}

// SELIDs returns the ids of the event log entries ordered numerically.
func (m *Manager) SELIDs(ctx context.Context) ([]string, error) {
	objects, err := m.api.Enumerate(ctx, selEnumeratePath)
	if err != nil {
		return nil, err
	}
	var ids []string
	for path := range objects {
		if match := selEntryRe.FindStringSubmatch(path); match != nil {
			ids = append(ids, match[1])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return numericLess(ids[i], ids[j]) })
	m.logger.Debug("SEL entries", zap.Strings("ids", ids))
	return ids, nil
}

func numericLess(a, b string) bool {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return x < y
}

// ClearSELByID deletes every event log entry one at a time.
func (m *Manager) ClearSELByID(ctx context.Context) error {
	ids, err := m.SELIDs(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("Clearing SEL entries by id", zap.Int("count", len(ids)))
	for _, id := range ids {
		if _, err := m.api.Post(ctx, fmt.Sprintf(selDeletePathFmt, id)); err != nil {
			return err
		}
	}
	return nil
}

// ClearSEL clears the whole event log with the legacy action. Firmware
// without the action rejects it; that is logged and ignored. Any other
// failure is returned.
func (m *Manager) ClearSEL(ctx context.Context) error {
	_, err := m.api.Post(ctx, selClearPath)
	if rest.IsApplication(err) {
		m.logger.Warn("Ignoring failure clearing SEL, not all OpenBMC builds support it", zap.Error(err))
		return nil
	}
	return err
}

// Sensor is one sensor reading.
type Sensor struct {
	Path  string
	Value float64
	Unit  string
}

type sensorObject struct {
	Value *float64 `json:"Value"`
	Unit  string   `json:"Unit"`
	Scale int      `json:"Scale"`
}

// Sensors returns every sensor that carries a value, ordered by path.
// Scaled integer readings are converted to their real value.
func (m *Manager) Sensors(ctx context.Context) ([]Sensor, error) {
	objects, err := m.api.Enumerate(ctx, sensorsPath)
	if err != nil {
		return nil, err
	}
	sensors := make([]Sensor, 0, len(objects))
	for path, raw := range objects {
		var obj sensorObject
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Value == nil {
			continue
		}
		value := *obj.Value
		for i := 0; i < obj.Scale; i++ {
			value *= 10
		}
		for i := 0; i > obj.Scale; i-- {
			value /= 10
		}
		sensors = append(sensors, Sensor{
			Path:  path,
			Value: value,
			Unit:  strings.TrimPrefix(obj.Unit, unitPrefix),
		})
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].Path < sensors[j].Path })
	return sensors, nil
}
