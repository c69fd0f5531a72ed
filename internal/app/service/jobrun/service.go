package jobrun

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/pkg/logctx"
	"github.com/fatflowers/donations/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save persists a job run record. Nil input is ignored; errors are logged, never returned,
// so bookkeeping can not fail the run it describes.
func (s *Service) Save(ctx context.Context, run *models.JobRun) {
	if run == nil {
		return
	}
	if run.ID == "" {
		run.ID = tool.GenerateUUIDV7()
	}
	// The run's own context may already be past its deadline.
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(run).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to save job run: %v", err)
	}
}

// Recent returns the latest runs of job, newest first. An empty job lists every job.
func (s *Service) Recent(ctx context.Context, job string, limit int) ([]*models.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Order("started_at desc").Limit(limit)
	if job != "" {
		q = q.Where("job = ?", job)
	}
	var rows []*models.JobRun
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	return rows, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
