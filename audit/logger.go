// Package audit turns raw action reports from the vault into signed,
// risk-scored, selectively encrypted, queryable records. Every
// security-relevant action (authentication, vault access, key operations,
// privacy actions, device changes) passes through here.
package audit

import (
	"context"
	"fmt"
	"time"
)

// EventType classifies an audit event. The set is closed: adding a type means
// adding exactly one entry to eventProfiles below, which carries the base
// risk score, category, and encryption policy for the type.
type EventType string

const (
	EventAuthentication   EventType = "authentication"
	EventVaultAccess      EventType = "vault_access"
	EventKeyUsage         EventType = "encryption_key_usage"
	EventDataAccess       EventType = "data_access"
	EventDataModification EventType = "data_modification"
	EventDeviceManagement EventType = "device_management"
	EventPrivacyAction    EventType = "privacy_action"
	EventSecurityIncident EventType = "security_incident"
	EventSystemAccess     EventType = "system_access"
	EventAuthorization    EventType = "authorization"
)

// Category groups event types for reporting. Derived from the event type,
// never set directly.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryPrivacy  Category = "privacy"
	CategoryData     Category = "data"
	CategorySystem   Category = "system"
)

// Severity is the qualitative band a risk score falls into. It is a
// monotonic function of the score via the configured thresholds.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// profile holds the per-type scoring and handling policy.
type profile struct {
	baseScore int
	category  Category

	// encryptMetadata marks security-sensitive types whose full metadata is
	// encrypted at rest under the service-level key.
	encryptMetadata bool

	// fixedScore pins the risk score regardless of metadata modifiers.
	fixedScore bool
}

// eventProfiles is the single lookup table for all event types. Specialized
// log wrappers and the generic LogEvent path both score through this table,
// so there is exactly one source of truth per type.
var eventProfiles = map[EventType]profile{
	EventAuthentication:   {baseScore: 30, category: CategorySecurity},
	EventVaultAccess:      {baseScore: 35, category: CategorySecurity, encryptMetadata: true},
	EventKeyUsage:         {baseScore: 50, category: CategorySecurity, encryptMetadata: true},
	EventDataAccess:       {baseScore: 25, category: CategoryData},
	EventDataModification: {baseScore: 40, category: CategoryData},
	EventDeviceManagement: {baseScore: 45, category: CategorySecurity, encryptMetadata: true},
	EventPrivacyAction:    {baseScore: 35, category: CategoryPrivacy},
	EventSecurityIncident: {baseScore: 95, category: CategorySecurity, fixedScore: true},
	EventSystemAccess:     {baseScore: 20, category: CategorySystem},
	EventAuthorization:    {baseScore: 30, category: CategorySecurity},
}

// actionScores overrides the type base score for specific actions. Privileged
// key operations carry fixed near-maximum scores; a download is weighted
// higher than read-only metadata access.
var actionScores = map[EventType]map[string]struct {
	score int
	fixed bool
}{
	EventVaultAccess: {
		"download": {score: 45},
		"share":    {score: 40},
		"delete":   {score: 45},
	},
	EventKeyUsage: {
		"export":  {score: 90, fixed: true},
		"destroy": {score: 90, fixed: true},
		"rotate":  {score: 60},
	},
}

// Event is one immutable audit record. Once persisted it is never updated,
// only superseded by new events. Signature covers the canonical
// (type, user, device, timestamp, risk score) tuple.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"event_type"`
	Category    Category               `json:"category"`
	Severity    Severity               `json:"severity"`
	RiskScore   int                    `json:"risk_score"`
	UserID      string                 `json:"user_id"`
	DeviceID    string                 `json:"device_id"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// EncryptedMetadata holds the base64 AEAD ciphertext of the full metadata
	// object when Encrypted is true; Metadata is empty in that case.
	EncryptedMetadata string `json:"encrypted_metadata,omitempty"`
	Encrypted         bool   `json:"encrypted"`

	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
}

// canonicalPayload is the byte string the integrity signature is computed
// over. Any change to a signed field changes this payload.
func canonicalPayload(typ EventType, userID, deviceID string, createdAt time.Time, riskScore int) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		typ, userID, deviceID, createdAt.UTC().Format(time.RFC3339Nano), riskScore))
}

// RiskThresholds are the severity cutoffs applied to a clamped risk score.
// A score below Medium is low severity.
type RiskThresholds struct {
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// DefaultRiskThresholds returns the standard low/medium/high/critical cutoffs.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 25, High: 50, Critical: 75}
}

func (t RiskThresholds) severityFor(score int) Severity {
	switch {
	case score >= t.Critical:
		return SeverityCritical
	case score >= t.High:
		return SeverityHigh
	case score >= t.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Config defines audit service configuration. Thresholds, retention and
// alerting can be changed at runtime through UpdateConfig.
type Config struct {
	// EncryptionKey is the service-level key protecting sensitive event
	// metadata and keying the integrity signature. Never serialized.
	EncryptionKey []byte `json:"-"`

	EnableRealTimeAlerts bool `json:"enable_real_time_alerts"`

	// AlertThreshold is the minimum risk score that triggers subscribed
	// alert callbacks. Zero selects the High severity cutoff.
	AlertThreshold int `json:"alert_threshold"`

	// RetentionDays bounds how far back queries and summaries reach.
	// Zero means 365.
	RetentionDays int `json:"retention_days"`

	RiskThresholds RiskThresholds `json:"risk_thresholds"`
}

// AlertFunc receives the full event when its risk score crosses the alert
// threshold. Callbacks run synchronously on the logging goroutine.
type AlertFunc func(Event)

// Recorder is the write-side interface the vault components log through.
// Service implements it; NoOpRecorder discards everything for callers that
// run with auditing disabled.
type Recorder interface {
	LogEvent(ctx context.Context, typ EventType, userID, description string, metadata map[string]interface{}) (string, error)
	LogAuthentication(ctx context.Context, action, userID string, metadata map[string]interface{}) (string, error)
	LogVaultAccess(ctx context.Context, action, itemID, userID string, metadata map[string]interface{}) (string, error)
	LogKeyUsage(ctx context.Context, action, keyID, userID string, metadata map[string]interface{}) (string, error)
	LogPrivacyAction(ctx context.Context, action, userID string, metadata map[string]interface{}) (string, error)
	LogDeviceActivity(ctx context.Context, action, userID string, metadata map[string]interface{}) (string, error)
	LogSecurityIncident(ctx context.Context, description, userID string, metadata map[string]interface{}) (string, error)
}

// WriteError wraps persistence failures on the audit write path so callers
// never deal with a storage backend's native error shape.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("audit write failed: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// QueryError wraps failures on the audit read path.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("audit query failed: %v", e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }
