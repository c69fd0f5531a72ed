package app

import (
	"time"

	"github.com/fatflowers/donations/internal/app/api/server"
	"github.com/fatflowers/donations/internal/app/scheduler"
	"github.com/fatflowers/donations/internal/app/service/jobrun"
	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/statistics"
	"github.com/fatflowers/donations/internal/app/service/subscription"
	"github.com/fatflowers/donations/internal/app/service/timeline"
	"github.com/fatflowers/donations/internal/platform/bank"
	"github.com/fatflowers/donations/internal/platform/db"
	"github.com/fatflowers/donations/internal/platform/lock"
	"github.com/fatflowers/donations/internal/platform/notify"
	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/logger"
	"github.com/fatflowers/donations/pkg/metrics"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Core is everything a reconciliation or timeline run needs, without HTTP
// serving or cron scheduling.
var Core = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	bank.Module,
	lock.Module,
	notify.Module,
	metrics.Module,
	subscription.Module,
	jobrun.Module,
	reconciliation.Module,
	timeline.Module,
	statistics.Module,
	scheduler.CoordinatorModule,
)

var Module = fx.Options(
	Core,
	scheduler.Module,
	server.Module,
)
