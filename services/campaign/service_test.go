package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/rule"
	"incentive-pipeline/services/source"
	"incentive-pipeline/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Campaign{})
	return NewService(ServiceParams{DB: db, Node: testutil.NewNode(t)})
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	c := &Campaign{
		TenantID: "tenant-1",
		Name:     "Premium push",
		Status:   CampaignStatusActive,
		Connection: datatypes.NewJSONType(source.Descriptor{
			Driver: "postgres", Host: "db", Database: "sales",
		}),
		Rules: datatypes.NewJSONType(rule.RuleSet{
			Accrual: []rule.AccrualRule{{ID: "a", Condition: rule.Always(), Calculation: rule.Calculation{Type: rule.CalcFixed, Amount: 5}}},
		}),
	}
	require.NoError(t, svc.Create(ctx, c))
	require.NotEmpty(t, c.CampaignID)

	got, err := svc.Get(ctx, c.CampaignID)
	require.NoError(t, err)
	require.Equal(t, "sales", got.Descriptor().Database)
	require.Len(t, got.RuleSet().Accrual, 1)
	require.Nil(t, got.Checkpoint)

	_, err = svc.Get(ctx, "unknown")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, err = svc.Get(ctx, "")
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestAdvanceCheckpointIsMonotonic(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	c := &Campaign{TenantID: "t", Name: "c", Status: CampaignStatusActive}
	require.NoError(t, svc.Create(ctx, c))

	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	require.NoError(t, svc.AdvanceCheckpoint(ctx, c.CampaignID, t1))
	require.NoError(t, svc.AdvanceCheckpoint(ctx, c.CampaignID, t0))

	got, err := svc.Get(ctx, c.CampaignID)
	require.NoError(t, err)
	require.NotNil(t, got.Checkpoint)
	require.True(t, got.Checkpoint.Equal(t1))
	require.True(t, got.IncrementalSince().Equal(t1))
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	require.NoError(t, svc.Create(ctx, &Campaign{TenantID: "t", Name: "running", Status: CampaignStatusActive, StartAt: &past}))
	require.NoError(t, svc.Create(ctx, &Campaign{TenantID: "t", Name: "ended", Status: CampaignStatusActive, EndAt: &past}))
	require.NoError(t, svc.Create(ctx, &Campaign{TenantID: "t", Name: "later", Status: CampaignStatusActive, StartAt: &future}))
	require.NoError(t, svc.Create(ctx, &Campaign{TenantID: "t", Name: "draft", Status: CampaignStatusDraft}))

	active, err := svc.ListActive(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "running", active[0].Name)
}

func TestIncrementalSince(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Campaign{}
	require.True(t, c.IncrementalSince().IsZero())
	c.StartAt = &start
	require.True(t, c.IncrementalSince().Equal(start))
}
