package statistics

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/pkg/types"
)

type StatisticType string

const (
	// Payments
	StatisticTypeDailyPaymentCount StatisticType = "daily_payment_count"
	StatisticTypeDailyAmount       StatisticType = "daily_amount"
	StatisticTypeTotalAmount       StatisticType = "total_amount"

	// Subscriptions
	StatisticTypeSubscriptionCountByStatus StatisticType = "subscription_count_by_status"
	StatisticTypeDailyNewSubscriptionCount StatisticType = "daily_new_subscription_count"
)

// Filter fields that only make sense for some statistic types
type StatisticFilterType string

const (
	StatisticFilterTypeCurrency StatisticFilterType = "currency"
	StatisticFilterTypeProvider StatisticFilterType = "provider"
)

var filterTypes = []StatisticFilterType{
	StatisticFilterTypeCurrency,
	StatisticFilterTypeProvider,
}

var validFilters = map[StatisticFilterType][]StatisticType{
	StatisticFilterTypeCurrency: {StatisticTypeDailyPaymentCount, StatisticTypeDailyAmount, StatisticTypeTotalAmount},
	StatisticFilterTypeProvider: {StatisticTypeSubscriptionCountByStatus, StatisticTypeDailyNewSubscriptionCount},
}

// filterColumns are the columns statistic filters may reference; each filter
// is further scoped to the statistic types whose table carries the column.
var filterColumns = map[string]struct{}{
	string(StatisticFilterTypeCurrency): {},
	string(StatisticFilterTypeProvider): {},
	"status":                            {},
	"created_at":                        {},
}

type StatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*StatisticDataItem  `json:"data_items"`
}

// forType keeps the filters applicable to statisticType.
func (f *StatisticRequest) forType(statisticType StatisticType) *StatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return &StatisticRequest{}
	}
	var result StatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[StatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

// Build composes a WHERE clause from the request filters.
func (f *StatisticRequest) Build(builder clause.Builder) {
	if len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		filter.Build(builder)
	}
}

type StatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

// Service provides admin statistics over payments and subscriptions.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

// dayOf renders a timestamp column as YYYY-MM-DD on the active dialect.
func (s *Service) dayOf(column string) string {
	if s.db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", column)
	}
	// sqlite stores timestamps as text beginning with the date.
	return fmt.Sprintf("substr(%s, 1, 10)", column)
}

func (s *Service) getDailyPaymentCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	day := s.dayOf("paid_at")
	q := s.db.WithContext(ctx).Table((models.Payment{}).TableName()).
		Select(day + " as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group(day).
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyAmount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	day := s.dayOf("paid_at")
	q := s.db.WithContext(ctx).Table((models.Payment{}).TableName()).
		Select(day + " as date, currency AS label, sum(amount) as value").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group(day).
		Group("currency").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalAmount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Payment{}).TableName()).
		Select("currency AS label, sum(amount) as value").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group("currency").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getSubscriptionCountByStatus(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select("status AS label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group("status").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyNewSubscriptionCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	day := s.dayOf("created_at")
	q := s.db.WithContext(ctx).Table((models.Subscription{}).TableName()).
		Select(day + " as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group(day).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getStatistic(ctx context.Context, request *StatisticRequest, dataItem *StatisticDataItem) ([]StatisticResponseDataItem, error) {
	filtered := request.forType(dataItem.ID)
	switch dataItem.ID {
	case StatisticTypeDailyPaymentCount:
		return s.getDailyPaymentCount(ctx, filtered)
	case StatisticTypeDailyAmount:
		return s.getDailyAmount(ctx, filtered)
	case StatisticTypeTotalAmount:
		return s.getTotalAmount(ctx, filtered)
	case StatisticTypeSubscriptionCountByStatus:
		return s.getSubscriptionCountByStatus(ctx, filtered)
	case StatisticTypeDailyNewSubscriptionCount:
		return s.getDailyNewSubscriptionCount(ctx, filtered)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetStatistic computes every requested data item concurrently.
func (s *Service) GetStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	if err := types.ValidateFilters(request.Filters, filterColumns); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[StatisticType][]StatisticResponseDataItem, len(request.DataItems))
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range request.DataItems {
		if item == nil {
			continue
		}
		g.Go(func() error {
			var res []StatisticResponseDataItem
			if !blankedByFilter(request, item.ID) {
				var err error
				if res, err = s.getStatistic(gctx, request, item); err != nil {
					return err
				}
			}
			mu.Lock()
			results[item.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &StatisticResponse{DataItems: results}, nil
}

// blankedByFilter reports whether a scoped filter excludes the statistic type entirely.
func blankedByFilter(request *StatisticRequest, id StatisticType) bool {
	for _, filter := range request.Filters {
		ft := StatisticFilterType(filter.Field)
		if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], id) {
			return true
		}
	}
	return false
}

var Module = fx.Options(
	fx.Provide(New),
)
