package jobrun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/db/dbtest"
)

func TestSaveAndRecent(t *testing.T) {
	svc := New(dbtest.New(t), zap.NewNop().Sugar())
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)

	svc.Save(ctx, nil)
	for i, job := range []string{"reconcile", "timeline", "reconcile"} {
		svc.Save(ctx, &models.JobRun{
			Job:       job,
			Trigger:   "cron",
			Outcome:   models.JobRunOutcomeCompleted,
			StartedAt: start.Add(time.Duration(i) * time.Minute),
		})
	}

	runs, err := svc.Recent(ctx, "reconcile", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.True(t, runs[0].StartedAt.Equal(start.Add(2*time.Minute)))
	require.NotEmpty(t, runs[0].ID)

	all, err := svc.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestSave_CanceledContext(t *testing.T) {
	svc := New(dbtest.New(t), zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc.Save(ctx, &models.JobRun{Job: "reconcile", Trigger: "cron", Outcome: models.JobRunOutcomeTimedOut, StartedAt: time.Now()})

	runs, err := svc.Recent(context.Background(), "reconcile", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
