package analyzer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aegis/internal/analyzer"
	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/store/memory"
)

type fakeTerminator struct {
	identityID string
	reason     string
	calls      int
}

func (f *fakeTerminator) TerminateAllForIdentity(_ context.Context, identityID, _, reason string) (int, error) {
	f.identityID = identityID
	f.reason = reason
	f.calls++
	return 2, nil
}

func newAnalyzer(t *testing.T) (*analyzer.Analyzer, *memory.Store, *fakeTerminator) {
	t.Helper()
	st := memory.New()
	term := &fakeTerminator{}
	a := analyzer.New(analyzer.Config{
		FailureWindow:       time.Minute,
		FailureThreshold:    3,
		DistinctIPWindow:    time.Hour,
		DistinctIPThreshold: 2,
		PrivilegeWindow:     time.Minute,
		PrivilegeThreshold:  2,
	}, analyzer.Deps{
		Alerts:     st.Alerts(),
		Audit:      st.Audit(),
		Cache:      cache.NewMemory("test"),
		Terminator: term,
	})
	return a, st, term
}

func failureEvent(ip string) *repository.AuditEvent {
	return &repository.AuditEvent{
		OrgID:     "org-1",
		Event:     types.EventLoginFailure,
		Success:   false,
		IPAddress: ip,
	}
}

func openAlerts(t *testing.T, st *memory.Store, kind types.AlertType) []repository.SecurityAlert {
	t.Helper()
	resolved := false
	alerts, _, err := st.Alerts().List(context.Background(), repository.ListAlertsFilter{
		Type: &kind, Resolved: &resolved,
	})
	require.NoError(t, err)
	return alerts
}

func TestRepeatedFailures_RaisesOnceAtThreshold(t *testing.T) {
	a, st, _ := newAnalyzer(t)
	ctx := context.Background()

	a.Consume(ctx, failureEvent("203.0.113.9"))
	a.Consume(ctx, failureEvent("203.0.113.9"))
	require.Empty(t, openAlerts(t, st, types.AlertRepeatedFailures))

	a.Consume(ctx, failureEvent("203.0.113.9"))
	alerts := openAlerts(t, st, types.AlertRepeatedFailures)
	require.Len(t, alerts, 1)
	require.Equal(t, "203.0.113.9", alerts[0].Subject)
	require.Equal(t, types.SeverityHigh, alerts[0].Severity)

	// más fallos sobre la misma alerta abierta no duplican
	a.Consume(ctx, failureEvent("203.0.113.9"))
	a.Consume(ctx, failureEvent("203.0.113.9"))
	require.Len(t, openAlerts(t, st, types.AlertRepeatedFailures), 1)
}

func TestRepeatedFailures_ResolvedAlertReopens(t *testing.T) {
	a, st, _ := newAnalyzer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a.Consume(ctx, failureEvent("203.0.113.9"))
	}
	alerts := openAlerts(t, st, types.AlertRepeatedFailures)
	require.Len(t, alerts, 1)
	require.NoError(t, st.Alerts().Resolve(ctx, alerts[0].ID, "operador"))

	// resuelta la anterior, el patrón persistente levanta una nueva
	a.Consume(ctx, failureEvent("203.0.113.9"))
	require.Len(t, openAlerts(t, st, types.AlertRepeatedFailures), 1)
}

func TestLoginSuccess_ClearsFailureCounter(t *testing.T) {
	a, st, _ := newAnalyzer(t)
	ctx := context.Background()
	identity := "id-1"

	a.Consume(ctx, failureEvent("203.0.113.9"))
	a.Consume(ctx, failureEvent("203.0.113.9"))
	a.Consume(ctx, &repository.AuditEvent{
		IdentityID: &identity,
		OrgID:      "org-1",
		Event:      types.EventLoginSuccess,
		Success:    true,
		IPAddress:  "203.0.113.9",
	})

	// el éxito reseteó la ventana: dos fallos más no alcanzan el umbral
	a.Consume(ctx, failureEvent("203.0.113.9"))
	a.Consume(ctx, failureEvent("203.0.113.9"))
	require.Empty(t, openAlerts(t, st, types.AlertRepeatedFailures))
}

func TestUnusualLocation(t *testing.T) {
	a, st, _ := newAnalyzer(t)
	ctx := context.Background()
	identity := "id-1"

	login := func(ip string) *repository.AuditEvent {
		return &repository.AuditEvent{
			IdentityID: &identity,
			OrgID:      "org-1",
			Event:      types.EventLoginSuccess,
			Success:    true,
			IPAddress:  ip,
		}
	}

	// el recorder inserta el evento antes de pasarlo al sink
	for _, ip := range []string{"203.0.113.1", "198.51.100.2", "192.0.2.3"} {
		ev := login(ip)
		require.NoError(t, st.Audit().Insert(ctx, ev))
		a.Consume(ctx, ev)
	}

	alerts := openAlerts(t, st, types.AlertUnusualLocation)
	require.Len(t, alerts, 1)
	require.Equal(t, identity, alerts[0].Subject)
	require.Equal(t, types.SeverityMedium, alerts[0].Severity)
}

func TestPrivilegeEscalation_TerminatesSessions(t *testing.T) {
	a, st, term := newAnalyzer(t)
	ctx := context.Background()
	identity := "id-1"

	priv := func(event string) *repository.AuditEvent {
		return &repository.AuditEvent{
			IdentityID: &identity,
			OrgID:      "org-1",
			Event:      event,
			Success:    true,
		}
	}

	a.Consume(ctx, priv(types.EventRoleChanged))
	require.Empty(t, openAlerts(t, st, types.AlertPrivilegeEscalation))
	require.Zero(t, term.calls)

	a.Consume(ctx, priv(types.EventMFADisabled))
	alerts := openAlerts(t, st, types.AlertPrivilegeEscalation)
	require.Len(t, alerts, 1)
	require.Equal(t, types.SeverityCritical, alerts[0].Severity)
	require.Equal(t, 1, term.calls)
	require.Equal(t, identity, term.identityID)
}

func TestConsume_IgnoresPrivilegeEventsWithoutIdentity(t *testing.T) {
	a, st, term := newAnalyzer(t)
	ctx := context.Background()

	a.Consume(ctx, &repository.AuditEvent{OrgID: "org-1", Event: types.EventRoleChanged, Success: true})
	a.Consume(ctx, &repository.AuditEvent{OrgID: "org-1", Event: types.EventRoleChanged, Success: true})
	require.Empty(t, openAlerts(t, st, types.AlertPrivilegeEscalation))
	require.Zero(t, term.calls)
}

func TestSweep_PurgesOldData(t *testing.T) {
	a, st, _ := newAnalyzer(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, st.Audit().Insert(ctx, &repository.AuditEvent{
		ID: "01OLD", Event: types.EventLoginSuccess, Success: true, CreatedAt: old,
	}))
	require.NoError(t, st.Audit().Insert(ctx, &repository.AuditEvent{
		ID: "01NEW", Event: types.EventLoginSuccess, Success: true, CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, st.Alerts().Create(ctx, &repository.SecurityAlert{
		ID: "01ALERT", Type: types.AlertRepeatedFailures, Severity: types.SeverityHigh, Subject: "x",
	}))
	require.NoError(t, st.Alerts().Resolve(ctx, "01ALERT", "operador"))

	require.NoError(t, a.Sweep(ctx, analyzer.Retention{
		Audit:          24 * time.Hour,
		ResolvedAlerts: time.Nanosecond,
	}))

	_, total, err := st.Audit().List(ctx, repository.ListAuditFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	_, err = st.Alerts().GetByID(ctx, "01ALERT")
	require.True(t, repository.IsNotFound(err))
}
