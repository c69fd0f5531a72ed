package handlers

import (
	"github.com/fatflowers/donations/internal/app/scheduler"
	"github.com/fatflowers/donations/internal/app/service/statistics"
	subsvc "github.com/fatflowers/donations/internal/app/service/subscription"
	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/pkg/response"
)

// SubscriptionDetail is a subscription with its payment history and audit trail.
type SubscriptionDetail struct {
	Subscription *models.Subscription      `json:"subscription"`
	Payments     []*models.Payment         `json:"payments"`
	Logs         []*models.SubscriptionLog `json:"logs"`
}

// Envelopes below exist for swagger generation only.

type RespHealth struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    map[string]string        `json:"data"`
}

type RespRunReport struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    scheduler.RunReport      `json:"data"`
}

type RespSchedulerStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    scheduler.Status         `json:"data"`
}

type RespJobRuns struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.JobRun          `json:"data"`
}

type RespListPayments struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    subsvc.ScanPaymentsResponse `json:"data"`
}

type RespSubscriptionDetail struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    SubscriptionDetail       `json:"data"`
}

type RespStatistic struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    statistics.StatisticResponse `json:"data"`
}
