package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

// QueryFilter selects events on the read path. Zero-valued fields are
// ignored. Filters are pushed down to the storage collaborator where the
// backend supports it.
type QueryFilter struct {
	UserID        string
	EventType     EventType
	RiskThreshold int // minimum risk score, inclusive
	Since         *time.Time
	Until         *time.Time
	Limit         int
}

// ExportFormat selects the output encoding of Export.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// csvColumns is the fixed export column order.
var csvColumns = []string{
	"Timestamp", "Event Type", "Category", "Severity", "Risk Score",
	"User ID", "Device ID", "Description", "Encrypted", "Signature",
}

// QueryEvents returns events matching the filter, newest first, bounded by
// the retention window. Encrypted metadata is decrypted per record; a record
// whose metadata fails to decrypt keeps the still-encrypted value rather than
// failing the whole query.
func (s *Service) QueryEvents(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	retentionDays := s.cfg.RetentionDays
	s.mu.RUnlock()

	q := persist.Query{
		OrderBy:    "created_at",
		Descending: true,
		Limit:      filter.Limit,
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	since := cutoff
	if filter.Since != nil && filter.Since.After(cutoff) {
		since = filter.Since.UTC()
	}
	q.Filters = append(q.Filters, persist.Filter{
		Field: "created_at", Op: ">=", Value: since.Format(time.RFC3339Nano),
	})
	if filter.Until != nil {
		q.Filters = append(q.Filters, persist.Filter{
			Field: "created_at", Op: "<=", Value: filter.Until.UTC().Format(time.RFC3339Nano),
		})
	}
	if filter.UserID != "" {
		q.Filters = append(q.Filters, persist.Filter{Field: "user_id", Value: filter.UserID})
	}
	if filter.EventType != "" {
		q.Filters = append(q.Filters, persist.Filter{Field: "event_type", Value: string(filter.EventType)})
	}
	if filter.RiskThreshold > 0 {
		q.Filters = append(q.Filters, persist.Filter{Field: "risk_score", Op: ">=", Value: filter.RiskThreshold})
	}

	docs, err := s.store.QueryDocuments(ctx, eventsCollection, q)
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	events := make([]Event, 0, len(docs))
	for _, doc := range docs {
		events = append(events, s.documentToEvent(doc))
	}
	return events, nil
}

// documentToEvent rebuilds an Event from its stored document, decrypting
// metadata when possible and falling back to the raw value when not.
func (s *Service) documentToEvent(doc persist.Document) Event {
	event := Event{
		ID:          docString(doc, "id"),
		Type:        EventType(docString(doc, "event_type")),
		Category:    Category(docString(doc, "category")),
		Severity:    Severity(docString(doc, "severity")),
		RiskScore:   docInt(doc, "risk_score"),
		UserID:      docString(doc, "user_id"),
		DeviceID:    docString(doc, "device_id"),
		Description: docString(doc, "description"),
		Signature:   docString(doc, "signature"),
	}

	if encrypted, ok := doc["encrypted"].(bool); ok {
		event.Encrypted = encrypted
	}
	if ts, err := time.Parse(time.RFC3339Nano, docString(doc, "created_at")); err == nil {
		event.CreatedAt = ts
	}

	if event.Encrypted {
		event.EncryptedMetadata = docString(doc, "encrypted_metadata")
		if metadata, err := s.decryptMetadata(event.EncryptedMetadata); err == nil {
			event.Metadata = metadata
		}
		// on failure the encrypted value stays available to the caller
	} else if metadata, ok := doc["metadata"].(map[string]interface{}); ok {
		event.Metadata = metadata
	}
	return event
}

// Summary aggregates a user's audit activity over a trailing window.
type Summary struct {
	UserID         string            `json:"user_id"`
	WindowDays     int               `json:"window_days"`
	TotalEvents    int               `json:"total_events"`
	CriticalEvents int               `json:"critical_events"`
	RecentEvents   []Event           `json:"recent_events"`
	EventsByType   map[EventType]int `json:"events_by_type"`
	DeviceActivity map[string]int    `json:"device_activity"`
	RiskTrend      []RiskTrendPoint  `json:"risk_trend"`
}

// RiskTrendPoint is the per-day average risk over the summary window.
type RiskTrendPoint struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	AverageScore float64 `json:"average_score"`
	EventCount   int     `json:"event_count"`
}

const recentEventCount = 10

// GetAuditSummary aggregates total and critical counts, the most recent
// events, per-type counts, per-device activity, and a daily risk trend over
// the last `days` days.
func (s *Service) GetAuditSummary(ctx context.Context, userID string, days int) (*Summary, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	events, err := s.QueryEvents(ctx, QueryFilter{UserID: userID, Since: &since})
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		UserID:         userID,
		WindowDays:     days,
		TotalEvents:    len(events),
		EventsByType:   make(map[EventType]int),
		DeviceActivity: make(map[string]int),
	}

	dayScores := make(map[string][2]int) // date -> {sum, count}
	for _, event := range events {
		if event.Severity == SeverityCritical {
			summary.CriticalEvents++
		}
		summary.EventsByType[event.Type]++
		if event.DeviceID != "" {
			summary.DeviceActivity[event.DeviceID]++
		}

		day := event.CreatedAt.UTC().Format("2006-01-02")
		agg := dayScores[day]
		agg[0] += event.RiskScore
		agg[1]++
		dayScores[day] = agg
	}

	// events arrive newest first
	if len(events) > recentEventCount {
		summary.RecentEvents = events[:recentEventCount]
	} else {
		summary.RecentEvents = events
	}

	for d := 0; d < days; d++ {
		day := since.AddDate(0, 0, d+1).Format("2006-01-02")
		agg, ok := dayScores[day]
		if !ok {
			continue
		}
		summary.RiskTrend = append(summary.RiskTrend, RiskTrendPoint{
			Date:         day,
			AverageScore: float64(agg[0]) / float64(agg[1]),
			EventCount:   agg[1],
		})
	}
	return summary, nil
}

// Export emits matching events as JSON (array of event objects, decrypted
// where possible) or CSV with the fixed column order.
func (s *Service) Export(ctx context.Context, filter QueryFilter, format ExportFormat) ([]byte, error) {
	events, err := s.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportJSON:
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return nil, &QueryError{Err: fmt.Errorf("failed to serialize export: %w", err)}
		}
		return data, nil

	case ExportCSV:
		return exportCSV(events), nil

	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportCSV writes a quoted header row followed by one quoted row per event.
func exportCSV(events []Event) []byte {
	var buf bytes.Buffer
	writeCSVRow(&buf, csvColumns)

	for _, event := range events {
		writeCSVRow(&buf, []string{
			event.CreatedAt.UTC().Format(time.RFC3339Nano),
			string(event.Type),
			string(event.Category),
			string(event.Severity),
			strconv.Itoa(event.RiskScore),
			event.UserID,
			event.DeviceID,
			event.Description,
			strconv.FormatBool(event.Encrypted),
			event.Signature,
		})
	}
	return buf.Bytes()
}

func writeCSVRow(buf *bytes.Buffer, values []string) {
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(v, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

func docString(doc persist.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docInt(doc persist.Document, key string) int {
	switch n := doc[key].(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
