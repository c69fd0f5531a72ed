package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/db/dbtest"
	"github.com/fatflowers/donations/pkg/tool"
	"github.com/fatflowers/donations/pkg/types"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	gdb := dbtest.New(t)
	return NewService(gdb, zap.NewNop().Sugar()), gdb
}

func seed(t *testing.T, gdb *gorm.DB, ref string, status types.SubscriptionStatus, mutate ...func(*models.Subscription)) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:                tool.GenerateUUIDV7(),
		UserID:            "user-" + ref,
		BeneficiaryID:     "beneficiary-1",
		Status:            status,
		Provider:          types.PaymentProviderBank,
		VariableReference: lo.ToPtr(ref),
		MonthlyAmount:     30000,
		Currency:          "CZK",
		CreatedAt:         now.Add(-40 * 24 * time.Hour),
	}
	for _, m := range mutate {
		m(sub)
	}
	require.NoError(t, gdb.Create(sub).Error)
	return sub
}

func TestFindBankSubscriptionByReference(t *testing.T) {
	svc, gdb := newService(t)
	ctx := context.Background()

	want := seed(t, gdb, "12345", types.SubscriptionStatusPending)
	seed(t, gdb, "777", types.SubscriptionStatusPending, func(s *models.Subscription) { s.Provider = types.PaymentProviderCard })

	got, err := svc.FindBankSubscriptionByReference(ctx, "12345")
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)

	got, err = svc.FindBankSubscriptionByReference(ctx, "777")
	require.NoError(t, err)
	require.Nil(t, got, "card subscriptions are not reconciled")

	got, err = svc.FindBankSubscriptionByReference(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, got)

	seed(t, gdb, "12345", types.SubscriptionStatusActive)
	_, err = svc.FindBankSubscriptionByReference(ctx, "12345")
	require.ErrorIs(t, err, ErrAmbiguousReference)
}

func TestInsertPayment_Idempotent(t *testing.T) {
	svc, gdb := newService(t)
	ctx := context.Background()
	sub := seed(t, gdb, "12345", types.SubscriptionStatusPending)

	p := &models.Payment{SubscriptionID: sub.ID, ProviderRef: models.BankProviderRef("M1"), Amount: 30000, Currency: "CZK", PaidAt: now}
	created, err := svc.InsertPayment(ctx, p)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, p.ID)
	require.Equal(t, types.PaymentStatusPaid, p.Status)

	dup := &models.Payment{SubscriptionID: sub.ID, ProviderRef: models.BankProviderRef("M1"), Amount: 30000, Currency: "CZK", PaidAt: now}
	created, err = svc.InsertPayment(ctx, dup)
	require.NoError(t, err)
	require.False(t, created)

	payments, err := svc.ListPayments(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "bank:M1", payments[0].ProviderRef)
}

func TestActivateOnPayment(t *testing.T) {
	ctx := context.Background()
	grace := now.Add(5 * 24 * time.Hour)
	access := now.Add(-5 * 24 * time.Hour)

	t.Run("pending clears timeline", func(t *testing.T) {
		svc, gdb := newService(t)
		sub := seed(t, gdb, "1", types.SubscriptionStatusPending, func(s *models.Subscription) {
			s.PendingSince = lo.ToPtr(now.Add(-35 * 24 * time.Hour))
			s.TemporaryAccessUntil = &access
			s.GraceUntil = &grace
			s.ReminderSentAt = lo.ToPtr(now.Add(-5 * 24 * time.Hour))
			s.ReminderCount = 1
		})
		p := &models.Payment{ID: tool.GenerateUUIDV7(), ProviderRef: "bank:M1", PaidAt: now}

		activated, err := svc.ActivateOnPayment(ctx, sub, p)
		require.NoError(t, err)
		require.True(t, activated)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.Equal(t, types.SubscriptionStatusActive, got.Status)
		require.True(t, got.TimelineCleared())
		require.NotNil(t, got.StartedAt)
		require.True(t, got.StartedAt.Equal(now))

		logs, err := svc.ListLogs(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		require.Equal(t, types.SubscriptionChangeReasonBankPayment, logs[0].Reason)
		require.Equal(t, types.SubscriptionStatusPending, logs[0].Before.Data().Status)
		require.Equal(t, types.SubscriptionStatusActive, logs[0].After.Data().Status)
	})

	t.Run("canceled stays canceled", func(t *testing.T) {
		svc, gdb := newService(t)
		sub := seed(t, gdb, "2", types.SubscriptionStatusCanceled)

		activated, err := svc.ActivateOnPayment(ctx, sub, &models.Payment{PaidAt: now})
		require.NoError(t, err)
		require.False(t, activated)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.Equal(t, types.SubscriptionStatusCanceled, got.Status)
	})

	t.Run("inactive heals", func(t *testing.T) {
		svc, gdb := newService(t)
		sub := seed(t, gdb, "3", types.SubscriptionStatusInactive)

		activated, err := svc.ActivateOnPayment(ctx, sub, &models.Payment{PaidAt: now})
		require.NoError(t, err)
		require.True(t, activated)
		require.Equal(t, types.SubscriptionStatusActive, sub.Status)
	})

	t.Run("keeps original start", func(t *testing.T) {
		svc, gdb := newService(t)
		started := now.Add(-90 * 24 * time.Hour)
		sub := seed(t, gdb, "4", types.SubscriptionStatusActive, func(s *models.Subscription) { s.StartedAt = &started })

		_, err := svc.ActivateOnPayment(ctx, sub, &models.Payment{PaidAt: now})
		require.NoError(t, err)
		require.True(t, sub.StartedAt.Equal(started))
	})
}

func TestTimelineTransitions_Guarded(t *testing.T) {
	svc, gdb := newService(t)
	ctx := context.Background()
	sub := seed(t, gdb, "1", types.SubscriptionStatusPending)

	ok, err := svc.StartTimeline(ctx, sub, now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, sub.PendingSince.Equal(now))

	stale := *sub
	stale.TemporaryAccessUntil = nil
	ok, err = svc.StartTimeline(ctx, &stale, now.Add(time.Hour), now.Add(31*24*time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "already initialized")

	ok, err = svc.MarkReminded(ctx, sub, now, now.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "access window still open")

	later := now.Add(31 * 24 * time.Hour)
	ok, err = svc.MarkReminded(ctx, sub, later, later.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, sub.ReminderCount)

	ok, err = svc.MarkReminded(ctx, sub, later, later.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "grace already open")

	ok, err = svc.Expire(ctx, sub, later.Add(24*time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "grace not passed")

	ok, err = svc.Expire(ctx, sub, later.Add(11*24*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.SubscriptionStatusInactive, sub.Status)

	logs, err := svc.ListLogs(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t,
		[]types.SubscriptionChangeReason{types.SubscriptionChangeReasonTimelineStart, types.SubscriptionChangeReasonReminder, types.SubscriptionChangeReasonGraceExpired},
		lo.Map(logs, func(l *models.SubscriptionLog, _ int) types.SubscriptionChangeReason { return l.Reason }))
}

func TestListTimelineCandidates(t *testing.T) {
	svc, gdb := newService(t)
	ctx := context.Background()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	fresh := seed(t, gdb, "fresh", types.SubscriptionStatusPending)
	seed(t, gdb, "awaiting", types.SubscriptionStatusPending, func(s *models.Subscription) { s.TemporaryAccessUntil = &future })
	overdue := seed(t, gdb, "overdue", types.SubscriptionStatusPending, func(s *models.Subscription) { s.TemporaryAccessUntil = &past })
	seed(t, gdb, "warned", types.SubscriptionStatusPending, func(s *models.Subscription) {
		s.TemporaryAccessUntil = &past
		s.GraceUntil = &future
	})
	expired := seed(t, gdb, "expired", types.SubscriptionStatusPending, func(s *models.Subscription) {
		s.TemporaryAccessUntil = &past
		s.GraceUntil = &past
	})
	seed(t, gdb, "active", types.SubscriptionStatusActive)
	seed(t, gdb, "card", types.SubscriptionStatusPending, func(s *models.Subscription) { s.Provider = types.PaymentProviderCard })

	subs, err := svc.ListTimelineCandidates(ctx, now, 500)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{fresh.ID, overdue.ID, expired.ID}, lo.Map(subs, func(s *models.Subscription, _ int) string { return s.ID }))

	subs, err = svc.ListTimelineCandidates(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestScanPayments(t *testing.T) {
	svc, gdb := newService(t)
	ctx := context.Background()
	sub := seed(t, gdb, "1", types.SubscriptionStatusActive)
	for i, id := range []string{"M1", "M2", "M3"} {
		_, err := svc.InsertPayment(ctx, &models.Payment{
			SubscriptionID: sub.ID,
			ProviderRef:    models.BankProviderRef(id),
			Amount:         int64(100 * (i + 1)),
			Currency:       "CZK",
			PaidAt:         now.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	resp, err := svc.ScanPayments(ctx, &ScanPaymentsRequest{
		Filters: []*types.CommonFilter{{Field: "amount", Operator: types.CommonFilterOperatorGte, Values: []any{200}}},
		Size:    1,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, resp.Total)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "bank:M3", resp.Items[0].ProviderRef)

	_, err = svc.ScanPayments(ctx, nil)
	require.Error(t, err)
}
