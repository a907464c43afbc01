package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

func seedEvents(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.LogAuthentication(ctx, "login", "alice", nil)
	require.NoError(t, err)
	_, err = svc.LogAuthentication(ctx, "failed_login", "alice", nil)
	require.NoError(t, err)
	_, err = svc.LogVaultAccess(ctx, "download", "item-1", "alice", nil)
	require.NoError(t, err)
	_, err = svc.LogKeyUsage(ctx, "export", "k", "alice", nil)
	require.NoError(t, err)
	_, err = svc.LogAuthentication(ctx, "login", "bob", nil)
	require.NoError(t, err)
}

func TestQueryEvents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Config{}, nil)
	seedEvents(t, svc)

	t.Run("ByUser", func(t *testing.T) {
		events, err := svc.QueryEvents(ctx, QueryFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Len(t, events, 4)
		for _, e := range events {
			assert.Equal(t, "alice", e.UserID)
		}
	})

	t.Run("ByType", func(t *testing.T) {
		events, err := svc.QueryEvents(ctx, QueryFilter{EventType: EventAuthentication})
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("ByRiskThreshold", func(t *testing.T) {
		events, err := svc.QueryEvents(ctx, QueryFilter{UserID: "alice", RiskThreshold: 70})
		require.NoError(t, err)
		assert.Len(t, events, 2) // failed login (70) and key export (90)
		for _, e := range events {
			assert.GreaterOrEqual(t, e.RiskScore, 70)
		}
	})

	t.Run("NewestFirst", func(t *testing.T) {
		events, err := svc.QueryEvents(ctx, QueryFilter{})
		require.NoError(t, err)
		require.NotEmpty(t, events)
		for i := 1; i < len(events); i++ {
			assert.False(t, events[i].CreatedAt.After(events[i-1].CreatedAt))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		events, err := svc.QueryEvents(ctx, QueryFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("UntilExcludesLater", func(t *testing.T) {
		until := time.Now().UTC().Add(-time.Hour)
		events, err := svc.QueryEvents(ctx, QueryFilter{Until: &until})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("VerifiableAfterRoundTrip", func(t *testing.T) {
		events, err := svc.QueryEvents(ctx, QueryFilter{})
		require.NoError(t, err)
		for _, e := range events {
			assert.True(t, svc.VerifyEvent(e), "event %s must verify after storage round trip", e.ID)
		}
	})
}

func TestQueryHonorsRetentionWindow(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, Config{RetentionDays: 30}, nil)

	id, err := svc.LogAuthentication(ctx, "login", "alice", nil)
	require.NoError(t, err)

	// age the stored record past the retention window
	doc, err := store.GetDocument(ctx, eventsCollection, id)
	require.NoError(t, err)
	doc["created_at"] = time.Now().UTC().AddDate(0, 0, -31).Format(time.RFC3339Nano)
	require.NoError(t, store.PutDocument(ctx, eventsCollection, id, doc))

	events, err := svc.QueryEvents(ctx, QueryFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, events, "events past retention must not be returned")

	// even an explicit Since cannot reach past retention
	since := time.Now().UTC().AddDate(0, 0, -60)
	events, err = svc.QueryEvents(ctx, QueryFilter{UserID: "alice", Since: &since})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGetAuditSummary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Config{}, nil)
	seedEvents(t, svc)

	summary, err := svc.GetAuditSummary(ctx, "alice", 30)
	require.NoError(t, err)

	assert.Equal(t, "alice", summary.UserID)
	assert.Equal(t, 30, summary.WindowDays)
	assert.Equal(t, 4, summary.TotalEvents)
	assert.Equal(t, 1, summary.CriticalEvents) // key export at 90
	assert.Equal(t, 2, summary.EventsByType[EventAuthentication])
	assert.Equal(t, 1, summary.EventsByType[EventVaultAccess])
	assert.Equal(t, 1, summary.EventsByType[EventKeyUsage])
	assert.Equal(t, 4, summary.DeviceActivity["device-1"])
	assert.Len(t, summary.RecentEvents, 4)

	require.Len(t, summary.RiskTrend, 1, "all events landed today")
	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, today, summary.RiskTrend[0].Date)
	assert.Equal(t, 4, summary.RiskTrend[0].EventCount)
	assert.InDelta(t, float64(30+70+45+90)/4, summary.RiskTrend[0].AverageScore, 0.001)
}

func TestExportJSON(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Config{}, nil)
	seedEvents(t, svc)

	data, err := svc.Export(ctx, QueryFilter{UserID: "alice"}, ExportJSON)
	require.NoError(t, err)

	var events []Event
	require.NoError(t, json.Unmarshal(data, &events))
	assert.Len(t, events, 4)
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, Config{}, nil)

	_, err := svc.LogEvent(ctx, EventDataAccess, "alice", `viewed "summary" page`, nil)
	require.NoError(t, err)

	data, err := svc.Export(ctx, QueryFilter{UserID: "alice"}, ExportCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `"Timestamp","Event Type","Category","Severity","Risk Score","User ID","Device ID","Description","Encrypted","Signature"`, lines[0])
	assert.Contains(t, lines[1], `"data_access"`)
	assert.Contains(t, lines[1], `"viewed ""summary"" page"`, "embedded quotes must be doubled")
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc, _ := newTestService(t, Config{}, nil)
	_, err := svc.Export(context.Background(), QueryFilter{}, "xml")
	require.Error(t, err)
}

func TestQueryErrorWrapping(t *testing.T) {
	store := &failingQueryStore{Store: persist.NewMemoryStore()}
	svc, err := NewService(store, &StaticDeviceIdentity{ID: "d"}, Config{EncryptionKey: testKey()}, nil)
	require.NoError(t, err)
	defer svc.Destroy()

	_, err = svc.QueryEvents(context.Background(), QueryFilter{})
	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
}

type failingQueryStore struct {
	persist.Store
}

func (f *failingQueryStore) QueryDocuments(context.Context, string, persist.Query) ([]persist.Document, error) {
	return nil, assert.AnError
}
