package audit

import "context"

// NoOpRecorder is a no-op implementation for when auditing is disabled
type NoOpRecorder struct{}

func NewNoOpRecorder() Recorder {
	return new(NoOpRecorder)
}

func (n *NoOpRecorder) LogEvent(context.Context, EventType, string, string, map[string]interface{}) (string, error) {
	return "", nil
}

func (n *NoOpRecorder) LogAuthentication(context.Context, string, string, map[string]interface{}) (string, error) {
	return "", nil
}

func (n *NoOpRecorder) LogVaultAccess(context.Context, string, string, string, map[string]interface{}) (string, error) {
	return "", nil
}

func (n *NoOpRecorder) LogKeyUsage(context.Context, string, string, string, map[string]interface{}) (string, error) {
	return "", nil
}

func (n *NoOpRecorder) LogPrivacyAction(context.Context, string, string, map[string]interface{}) (string, error) {
	return "", nil
}

func (n *NoOpRecorder) LogDeviceActivity(context.Context, string, string, map[string]interface{}) (string, error) {
	return "", nil
}

func (n *NoOpRecorder) LogSecurityIncident(context.Context, string, string, map[string]interface{}) (string, error) {
	return "", nil
}
