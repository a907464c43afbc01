package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	icrypto "github.com/ruchit-p/DynastyMobile-sub004/internal/crypto"
	"github.com/ruchit-p/DynastyMobile-sub004/offline"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

const (
	// eventsCollection is the document collection audit events persist to.
	eventsCollection = "audit_events"

	// RedactedValue replaces deny-listed metadata values before any
	// persistence, encrypted or not.
	RedactedValue = "[REDACTED]"
)

// metadataDenyList names metadata keys whose values are always redacted.
// Matching is case-insensitive on the normalized key, plus a substring check
// for the fragments below, so "dbPassword" and "apiToken" are caught without
// enumerating every spelling.
var metadataDenyList = map[string]struct{}{
	"password":     {},
	"token":        {},
	"secret":       {},
	"apitoken":     {},
	"secretkey":    {},
	"accesstoken":  {},
	"refreshtoken": {},
	"privatekey":   {},
	"passphrase":   {},
	"pin":          {},
	"credential":   {},
}

var denyFragments = []string{"password", "secret", "token", "passphrase", "credential"}

// Ensure Service implements Recorder interface
var _ Recorder = (*Service)(nil)

// Service is the audit log service. It computes risk scores, redacts and
// selectively encrypts sensitive fields, signs each event, persists it via
// the storage collaborator, and dispatches real-time alerts.
//
// Concurrency: safe for concurrent use. Config swaps take the write lock;
// logging and queries take read locks. Alert callbacks are invoked
// synchronously with no lock held.
type Service struct {
	store    persist.Store
	queue    offline.Queue
	identity DeviceIdentity

	mu          sync.RWMutex
	cfg         Config
	signingKey  []byte
	metadataKey []byte
	deviceID    string

	alertMu   sync.Mutex
	alerts    map[int]AlertFunc
	nextAlert int
}

// NewService creates the audit service. identity supplies the stable
// per-installation device id; queue may be nil, in which case storage
// failures surface as WriteError instead of being queued for replay.
func NewService(store persist.Store, identity DeviceIdentity, cfg Config, queue offline.Queue) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit service requires a store")
	}
	if identity == nil {
		identity = NewFileDeviceIdentity("")
	}
	if len(cfg.EncryptionKey) == 0 {
		return nil, errors.New("audit service requires an encryption key")
	}

	deviceID, err := identity.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device identity: %w", err)
	}

	s := &Service{
		store:    store,
		queue:    queue,
		identity: identity,
		deviceID: deviceID,
		alerts:   make(map[int]AlertFunc),
	}
	if err = s.applyConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// applyConfig validates cfg, fills defaults, and derives the signing and
// metadata keys. Caller must not hold s.mu.
func (s *Service) applyConfig(cfg Config) error {
	if len(cfg.EncryptionKey) < 16 {
		return errors.New("audit encryption key must be at least 16 bytes")
	}
	if cfg.RiskThresholds == (RiskThresholds{}) {
		cfg.RiskThresholds = DefaultRiskThresholds()
	}
	t := cfg.RiskThresholds
	if t.Medium >= t.High || t.High >= t.Critical {
		return fmt.Errorf("risk thresholds must be strictly increasing, got %d/%d/%d",
			t.Medium, t.High, t.Critical)
	}
	if cfg.AlertThreshold == 0 {
		cfg.AlertThreshold = t.High
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 365
	}

	signingKey, err := deriveServiceKey(cfg.EncryptionKey, "dynasty/audit/signing/v1")
	if err != nil {
		return err
	}
	metadataKey, err := deriveServiceKey(cfg.EncryptionKey, "dynasty/audit/metadata/v1")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	memguard.WipeBytes(s.signingKey)
	memguard.WipeBytes(s.metadataKey)
	s.cfg = cfg
	s.signingKey = signingKey
	s.metadataKey = metadataKey
	return nil
}

func deriveServiceKey(root []byte, info string) ([]byte, error) {
	stream := hkdf.New(sha256.New, root, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(stream, key); err != nil {
		return nil, fmt.Errorf("service key derivation failed: %w", err)
	}
	return key, nil
}

// UpdateConfig swaps retention, thresholds, alerting, and the service key at
// runtime. Events already persisted keep their existing scores and signatures.
func (s *Service) UpdateConfig(cfg Config) error {
	return s.applyConfig(cfg)
}

// DeviceID exposes the stable per-installation device id for correlation.
func (s *Service) DeviceID() string {
	return s.deviceID
}

// LogEvent is the single scoring and persistence pipeline all events go
// through: redact, score, clamp, map to severity, encrypt sensitive
// metadata, sign, persist, alert. Returns the new event's id.
func (s *Service) LogEvent(ctx context.Context, typ EventType, userID, description string, metadata map[string]interface{}) (string, error) {
	p, ok := eventProfiles[typ]
	if !ok {
		return "", fmt.Errorf("unknown audit event type %q", typ)
	}

	s.mu.RLock()
	destroyed := s.signingKey == nil
	thresholds := s.cfg.RiskThresholds
	alertThreshold := s.cfg.AlertThreshold
	alertsEnabled := s.cfg.EnableRealTimeAlerts
	s.mu.RUnlock()
	if destroyed {
		return "", errors.New("audit service has been destroyed")
	}

	redacted := redactMetadata(metadata)
	score := s.scoreEvent(typ, p, redacted)
	severity := thresholds.severityFor(score)

	event := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		Category:    p.category,
		Severity:    severity,
		RiskScore:   score,
		UserID:      userID,
		DeviceID:    s.deviceID,
		Description: description,
		Metadata:    redacted,
		CreatedAt:   time.Now().UTC(),
	}

	if p.encryptMetadata && len(redacted) > 0 {
		enc, err := s.encryptMetadata(redacted)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt event metadata: %w", err)
		}
		event.EncryptedMetadata = enc
		event.Encrypted = true
		event.Metadata = nil
	}

	event.Signature = s.sign(event)

	if err := s.persistEvent(ctx, event); err != nil {
		return "", err
	}

	if alertsEnabled && score >= alertThreshold {
		s.dispatchAlert(event)
	}
	return event.ID, nil
}

// scoreEvent computes the risk score for one event: action override or type
// base, metadata-driven modifiers, then clamp to [0,100]. Fixed scores skip
// the modifiers so incidents and key exports never score lower than intended.
func (s *Service) scoreEvent(typ EventType, p profile, metadata map[string]interface{}) int {
	score := p.baseScore
	fixed := p.fixedScore

	if action, ok := metadata["action"].(string); ok {
		if override, found := actionScores[typ][action]; found {
			score = override.score
			fixed = fixed || override.fixed
		}
	}

	if !fixed {
		if flagged(metadata, "failed") {
			score = score*2 + 10
		}
		if flagged(metadata, "fromNewDevice") {
			score = score*5/2 + 15
		}
	}

	return clampScore(score)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func flagged(metadata map[string]interface{}, key string) bool {
	v, ok := metadata[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// redactMetadata returns a copy of metadata with deny-listed values replaced
// by the redaction marker. The input map is never mutated.
func redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if isDeniedKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = v
	}
	return out
}

func isDeniedKey(key string) bool {
	normalized := strings.ToLower(key)
	if _, ok := metadataDenyList[normalized]; ok {
		return true
	}
	for _, fragment := range denyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func (s *Service) encryptMetadata(metadata map[string]interface{}) (string, error) {
	plain, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	key := s.metadataKey
	s.mu.RUnlock()

	ct, err := icrypto.EncryptValue(plain, key, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// decryptMetadata reverses encryptMetadata. Read-path callers recover
// per-record on failure rather than aborting a whole query.
func (s *Service) decryptMetadata(encoded string) (map[string]interface{}, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted metadata encoding: %w", err)
	}

	s.mu.RLock()
	key := s.metadataKey
	s.mu.RUnlock()

	plain, err := icrypto.DecryptValue(ct, key, nil)
	if err != nil {
		return nil, err
	}

	var metadata map[string]interface{}
	if err = json.Unmarshal(plain, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted metadata: %w", err)
	}
	return metadata, nil
}

// sign computes the keyed-hash signature over the event's canonical fields.
func (s *Service) sign(event Event) string {
	s.mu.RLock()
	key := s.signingKey
	s.mu.RUnlock()

	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalPayload(event.Type, event.UserID, event.DeviceID, event.CreatedAt, event.RiskScore))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyEvent recomputes the signature from an event's canonical fields and
// compares it against the stored one. Any mutation of a signed field makes
// this return false.
func (s *Service) VerifyEvent(event Event) bool {
	expected := s.sign(event)
	return hmac.Equal([]byte(expected), []byte(event.Signature))
}

func (s *Service) persistEvent(ctx context.Context, event Event) error {
	doc := eventToDocument(event)
	err := s.store.PutDocument(ctx, eventsCollection, event.ID, doc)
	if err == nil {
		return nil
	}

	// Storage unreachable: queue for replay instead of losing the event.
	if s.queue != nil {
		qErr := s.queue.Enqueue(offline.Operation{
			Type: "audit_event",
			Data: map[string]interface{}{"id": event.ID, "fields": map[string]interface{}(doc)},
		})
		if qErr == nil {
			log.Printf("audit: store write failed, event %s queued for replay: %v", event.ID, err)
			return nil
		}
		err = fmt.Errorf("%w (queue also failed: %v)", err, qErr)
	}
	return &WriteError{Err: err}
}

// ReplayQueued drains the offline queue, re-persisting events captured while
// the storage collaborator was unreachable.
func (s *Service) ReplayQueued(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}
	return s.queue.Drain(func(op offline.Operation) error {
		if op.Type != "audit_event" {
			return nil // not ours; leave handling to the owning component
		}
		id, _ := op.Data["id"].(string)
		fields, _ := op.Data["fields"].(map[string]interface{})
		if id == "" || fields == nil {
			return nil // malformed descriptor, drop rather than wedge the queue
		}
		return s.store.PutDocument(ctx, eventsCollection, id, persist.Document(fields))
	})
}

func (s *Service) dispatchAlert(event Event) {
	s.alertMu.Lock()
	callbacks := make([]AlertFunc, 0, len(s.alerts))
	for _, fn := range s.alerts {
		callbacks = append(callbacks, fn)
	}
	s.alertMu.Unlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

// OnRiskAlert subscribes a callback for events at or above the alert
// threshold. The returned function removes the subscription.
func (s *Service) OnRiskAlert(fn AlertFunc) (unsubscribe func()) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	id := s.nextAlert
	s.nextAlert++
	s.alerts[id] = fn

	return func() {
		s.alertMu.Lock()
		defer s.alertMu.Unlock()
		delete(s.alerts, id)
	}
}

// Destroy clears all alert subscriptions and wipes derived key material.
// The service must not be used afterwards.
func (s *Service) Destroy() {
	s.alertMu.Lock()
	s.alerts = make(map[int]AlertFunc)
	s.alertMu.Unlock()

	s.mu.Lock()
	memguard.WipeBytes(s.signingKey)
	memguard.WipeBytes(s.metadataKey)
	s.signingKey = nil
	s.metadataKey = nil
	s.mu.Unlock()
}

// Convenience wrappers. Each is a thin caller of LogEvent: it contributes the
// action and well-known flags to the metadata and lets the shared pipeline
// produce the score, so wrapper and generic scoring can never disagree.

// LogAuthentication records a login-class event. Actions beginning with
// "failed" set the failed modifier, which doubles the base score and adds a
// fixed penalty.
func (s *Service) LogAuthentication(ctx context.Context, action, userID string, metadata map[string]interface{}) (string, error) {
	md := cloneMetadata(metadata)
	md["action"] = action
	if strings.HasPrefix(action, "failed") {
		md["failed"] = true
	}
	return s.LogEvent(ctx, EventAuthentication, userID, fmt.Sprintf("Authentication: %s", action), md)
}

// LogVaultAccess records an upload/download/share/delete against a vault item.
func (s *Service) LogVaultAccess(ctx context.Context, action, itemID, userID string, metadata map[string]interface{}) (string, error) {
	md := cloneMetadata(metadata)
	md["action"] = action
	md["item_id"] = itemID
	return s.LogEvent(ctx, EventVaultAccess, userID, fmt.Sprintf("Vault access: %s", action), md)
}

// LogKeyUsage records a key lifecycle operation. Exports and destroys always
// score 90 regardless of metadata.
func (s *Service) LogKeyUsage(ctx context.Context, action, keyID, userID string, metadata map[string]interface{}) (string, error) {
	md := cloneMetadata(metadata)
	md["action"] = action
	md["key_id"] = keyID
	return s.LogEvent(ctx, EventKeyUsage, userID, fmt.Sprintf("Key usage: %s", action), md)
}

// LogPrivacyAction records consent and data-subject actions.
func (s *Service) LogPrivacyAction(ctx context.Context, action, userID string, metadata map[string]interface{}) (string, error) {
	md := cloneMetadata(metadata)
	md["action"] = action
	return s.LogEvent(ctx, EventPrivacyAction, userID, fmt.Sprintf("Privacy action: %s", action), md)
}

// LogDeviceActivity records device registration, removal and trust changes.
func (s *Service) LogDeviceActivity(ctx context.Context, action, userID string, metadata map[string]interface{}) (string, error) {
	md := cloneMetadata(metadata)
	md["action"] = action
	return s.LogEvent(ctx, EventDeviceManagement, userID, fmt.Sprintf("Device activity: %s", action), md)
}

// LogSecurityIncident records a detected incident at fixed near-maximum risk.
func (s *Service) LogSecurityIncident(ctx context.Context, description, userID string, metadata map[string]interface{}) (string, error) {
	return s.LogEvent(ctx, EventSecurityIncident, userID, description, cloneMetadata(metadata))
}

func cloneMetadata(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// eventToDocument flattens an event into the storage collaborator's document
// shape. Timestamps are stored as RFC3339Nano strings so every backend can
// compare them lexically.
func eventToDocument(event Event) persist.Document {
	doc := persist.Document{
		"id":          event.ID,
		"event_type":  string(event.Type),
		"category":    string(event.Category),
		"severity":    string(event.Severity),
		"risk_score":  event.RiskScore,
		"user_id":     event.UserID,
		"device_id":   event.DeviceID,
		"description": event.Description,
		"encrypted":   event.Encrypted,
		"signature":   event.Signature,
		"created_at":  event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if event.Encrypted {
		doc["encrypted_metadata"] = event.EncryptedMetadata
	} else if len(event.Metadata) > 0 {
		doc["metadata"] = event.Metadata
	}
	return doc
}
