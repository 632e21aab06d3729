package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/academy-automation/internal/domain"
	"go.uber.org/zap"
)

type staticStore struct {
	docs map[string]string
	err  error
}

func (s *staticStore) GetSettings(_ context.Context, tenantID string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.docs[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return []byte(doc), nil
}

const tenantDoc = `{
	"absence_alert": {"enabled": true, "channel": "kakao", "threshold": 4},
	"overdue_payment_reminder": {"enabled": false, "grace_days": 10.5},
	"schedule_change_notice": {"enabled": "yes", "channel": "fax"},
	"automation_safety": {
		"notify_guardian": {"max_allowed": 5},
		"payment_reminder": {"max_allowed": -1},
		"welcome_message": {"max_allowed": "10"}
	}
}`

func newTestEvaluator(store SettingsStore) *Evaluator {
	return NewEvaluator(store, zap.NewNop())
}

func TestAssertEventType(t *testing.T) {
	ev, err := AssertEventType("absence_alert")
	require.NoError(t, err)
	assert.Equal(t, domain.EventAbsenceAlert, ev)

	_, err = AssertEventType("")
	assert.ErrorIs(t, err, ErrMissingEventType)
	assert.Equal(t, domain.CodeMissingEventType, domain.CodeOf(err))

	for _, id := range []string{"absense_alert", "ABSENCE_ALERT", "absence_alert ", "drop_tables"} {
		_, err = AssertEventType(id)
		assert.ErrorIs(t, err, ErrInvalidEventType, id)
	}
}

func TestEventTypesSorted(t *testing.T) {
	assert.Equal(t, []domain.EventType{
		domain.EventAbsenceAlert,
		domain.EventNewRegistrationWelcome,
		domain.EventOverduePaymentReminder,
		domain.EventScheduleChangeNotice,
	}, EventTypes())
}

func TestEnabledFailsClosed(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(&staticStore{docs: map[string]string{"t1": tenantDoc, "broken": `{"absence_alert":`}})

	cases := []struct {
		name   string
		tenant string
		event  domain.EventType
		want   bool
	}{
		{"explicit true", "t1", domain.EventAbsenceAlert, true},
		{"explicit false", "t1", domain.EventOverduePaymentReminder, false},
		{"non boolean", "t1", domain.EventScheduleChangeNotice, false},
		{"absent key", "t1", domain.EventNewRegistrationWelcome, false},
		{"unknown tenant", "t2", domain.EventAbsenceAlert, false},
		{"invalid document", "broken", domain.EventAbsenceAlert, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Enabled(ctx, tc.tenant, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := e.Enabled(ctx, "t1", domain.EventType("nope"))
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestRequireEnabled(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(&staticStore{docs: map[string]string{"t1": tenantDoc}})

	ev, err := e.RequireEnabled(ctx, "t1", "absence_alert")
	require.NoError(t, err)
	assert.Equal(t, domain.EventAbsenceAlert, ev)

	_, err = e.RequireEnabled(ctx, "t1", "overdue_payment_reminder")
	assert.ErrorIs(t, err, ErrPolicyDisabled)

	_, err = e.RequireEnabled(ctx, "t1", "")
	assert.Equal(t, domain.CodeMissingEventType, domain.CodeOf(err))
}

func TestStoreErrorIsQueryFailed(t *testing.T) {
	e := newTestEvaluator(&staticStore{err: errors.New("connection reset")})

	_, err := e.Enabled(context.Background(), "t1", domain.EventAbsenceAlert)
	require.Error(t, err)
	assert.Equal(t, domain.CodeQueryFailed, domain.CodeOf(err))
}

func TestChannel(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(&staticStore{docs: map[string]string{"t1": tenantDoc}})

	ch, err := e.Channel(ctx, "t1", domain.EventAbsenceAlert)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelChat, ch, "legacy alias is normalized")

	ch, err = e.Channel(ctx, "t1", domain.EventNewRegistrationWelcome)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, ch, "catalog default")

	_, err = e.Channel(ctx, "t1", domain.EventScheduleChangeNotice)
	assert.Equal(t, domain.CodeInvalidParams, domain.CodeOf(err))
}

func TestMaxAllowed(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(&staticStore{docs: map[string]string{"t1": tenantDoc}})

	n, err := e.MaxAllowed(ctx, "t1", domain.ActionNotifyGuardian)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for _, at := range []domain.ActionType{domain.ActionPaymentReminder, domain.ActionWelcomeMessage, "other"} {
		_, err = e.MaxAllowed(ctx, "t1", at)
		assert.ErrorIs(t, err, ErrPolicyMissing, string(at))
	}

	_, err = e.MaxAllowed(ctx, "t2", domain.ActionNotifyGuardian)
	assert.ErrorIs(t, err, ErrPolicyMissing)
}

func TestIntOrDefault(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(&staticStore{docs: map[string]string{"t1": tenantDoc}})

	n, err := e.IntOrDefault(ctx, "t1", AbsenceThreshold, DefaultAbsenceThreshold)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = e.IntOrDefault(ctx, "t1", OverdueGraceDays, DefaultOverdueGraceDays)
	require.NoError(t, err)
	assert.Equal(t, DefaultOverdueGraceDays, n, "fractional value falls back")

	n, err = e.IntOrDefault(ctx, "t1", RegistrationWindow, DefaultRegistrationWindow)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistrationWindow, n)
}

func TestNormalizeChannel(t *testing.T) {
	cases := map[string]domain.Channel{
		"SMS":      domain.ChannelSMS,
		" text ":   domain.ChannelSMS,
		"mail":     domain.ChannelEmail,
		"app":      domain.ChannelPush,
		"alimtalk": domain.ChannelChat,
	}
	for raw, want := range cases {
		got, err := NormalizeChannel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := NormalizeChannel("pigeon")
	assert.Error(t, err)
}

func TestSettingPaths(t *testing.T) {
	assert.Equal(t, "absence_alert.enabled", EventEnabled(domain.EventAbsenceAlert).String())
	assert.Equal(t, "absence_alert.channel", EventChannel(domain.EventAbsenceAlert).String())
	assert.Equal(t, "automation_safety.notify_guardian.max_allowed", SafetyMaxAllowed(domain.ActionNotifyGuardian).String())
}
