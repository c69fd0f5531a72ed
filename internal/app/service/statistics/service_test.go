package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/db/dbtest"
	"github.com/fatflowers/donations/pkg/tool"
	"github.com/fatflowers/donations/pkg/types"
)

func TestGetStatistic(t *testing.T) {
	gdb := dbtest.New(t)
	svc := New(gdb)
	ctx := context.Background()
	day1 := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	subs := []*models.Subscription{
		{ID: tool.GenerateUUIDV7(), UserID: "u1", BeneficiaryID: "b", Status: types.SubscriptionStatusActive, Provider: types.PaymentProviderBank, MonthlyAmount: 100, Currency: "CZK", CreatedAt: day1},
		{ID: tool.GenerateUUIDV7(), UserID: "u2", BeneficiaryID: "b", Status: types.SubscriptionStatusPending, Provider: types.PaymentProviderBank, MonthlyAmount: 100, Currency: "CZK", CreatedAt: day2},
		{ID: tool.GenerateUUIDV7(), UserID: "u3", BeneficiaryID: "b", Status: types.SubscriptionStatusActive, Provider: types.PaymentProviderCard, MonthlyAmount: 100, Currency: "EUR", CreatedAt: day2},
	}
	require.NoError(t, gdb.Create(subs).Error)

	payments := []*models.Payment{
		{ID: tool.GenerateUUIDV7(), SubscriptionID: subs[0].ID, ProviderRef: "bank:1", Amount: 100, Currency: "CZK", Status: types.PaymentStatusPaid, PaidAt: day1},
		{ID: tool.GenerateUUIDV7(), SubscriptionID: subs[0].ID, ProviderRef: "bank:2", Amount: 250, Currency: "CZK", Status: types.PaymentStatusPaid, PaidAt: day2},
		{ID: tool.GenerateUUIDV7(), SubscriptionID: subs[2].ID, ProviderRef: "card:1", Amount: 5, Currency: "EUR", Status: types.PaymentStatusPaid, PaidAt: day2},
	}
	require.NoError(t, gdb.Create(payments).Error)

	resp, err := svc.GetStatistic(ctx, &StatisticRequest{DataItems: []*StatisticDataItem{
		{ID: StatisticTypeDailyPaymentCount},
		{ID: StatisticTypeTotalAmount},
		{ID: StatisticTypeSubscriptionCountByStatus},
	}})
	require.NoError(t, err)

	require.Equal(t, []StatisticResponseDataItem{
		{Date: "2025-03-09", Value: 1},
		{Date: "2025-03-10", Value: 2},
	}, resp.DataItems[StatisticTypeDailyPaymentCount])
	require.Equal(t, []StatisticResponseDataItem{
		{Label: "CZK", Value: 350},
		{Label: "EUR", Value: 5},
	}, resp.DataItems[StatisticTypeTotalAmount])
	require.Equal(t, []StatisticResponseDataItem{
		{Label: "ACTIVE", Value: 2},
		{Label: "PENDING", Value: 1},
	}, resp.DataItems[StatisticTypeSubscriptionCountByStatus])
}

func TestGetStatistic_FilterScope(t *testing.T) {
	gdb := dbtest.New(t)
	svc := New(gdb)
	sub := &models.Subscription{ID: tool.GenerateUUIDV7(), UserID: "u1", BeneficiaryID: "b", Status: types.SubscriptionStatusActive, Provider: types.PaymentProviderBank, MonthlyAmount: 100, Currency: "CZK"}
	require.NoError(t, gdb.Create(sub).Error)

	resp, err := svc.GetStatistic(context.Background(), &StatisticRequest{
		Filters: []*types.CommonFilter{{Field: "provider", Operator: types.CommonFilterOperatorEq, Values: []any{"BANK"}}},
		DataItems: []*StatisticDataItem{
			{ID: StatisticTypeTotalAmount},
			{ID: StatisticTypeSubscriptionCountByStatus},
		},
	})
	require.NoError(t, err)
	require.Nil(t, resp.DataItems[StatisticTypeTotalAmount])
	require.Equal(t, []StatisticResponseDataItem{{Label: "ACTIVE", Value: 1}}, resp.DataItems[StatisticTypeSubscriptionCountByStatus])
}

func TestGetStatistic_InvalidItem(t *testing.T) {
	svc := New(dbtest.New(t))
	_, err := svc.GetStatistic(context.Background(), &StatisticRequest{DataItems: []*StatisticDataItem{{ID: "nope"}}})
	require.Error(t, err)
}

func TestGetStatistic_RejectsUnknownFilterField(t *testing.T) {
	svc := New(dbtest.New(t))
	_, err := svc.GetStatistic(context.Background(), &StatisticRequest{
		Filters:   []*types.CommonFilter{{Field: "1=1 OR amount", Operator: types.CommonFilterOperatorEq, Values: []any{1}}},
		DataItems: []*StatisticDataItem{{ID: StatisticTypeTotalAmount}},
	})
	require.ErrorIs(t, err, types.ErrInvalidFilter)
}
