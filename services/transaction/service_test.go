package transaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &TransactionRecord{})
	return NewService(Params{DB: db})
}

func seed(t *testing.T, svc *Service, campaignID string, n int, base time.Time) []*TransactionRecord {
	t.Helper()
	records := make([]*TransactionRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, &TransactionRecord{
			ID:            fmt.Sprintf("%s-%03d", campaignID, i),
			CampaignID:    campaignID,
			ParticipantID: fmt.Sprintf("u%d", i),
			Fields:        datatypes.JSONMap{"amount": float64(100 * (i + 1))},
			Status:        StatusPending,
			CreatedAt:     base.Add(time.Duration(i/2) * time.Second),
		})
	}
	require.NoError(t, svc.BatchCreate(context.Background(), records))
	return records
}

func TestListUnprocessedPagesInCreationOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, svc, "c1", 5, base)
	seed(t, svc, "c2", 2, base)

	var seen []string
	var cursor *Cursor
	for {
		page, err := svc.ListUnprocessed(ctx, "c1", cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.ID)
		}
		last := page[len(page)-1]
		cursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	require.Equal(t, []string{"c1-000", "c1-001", "c1-002", "c1-003", "c1-004"}, seen)
}

func TestMarkProcessedIsGuarded(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	recs := seed(t, svc, "c1", 2, time.Now().UTC())
	at := time.Now().UTC()

	ok, err := svc.MarkProcessed(ctx, recs[0].ID, Outcome{
		Points: 3, AppliedRuleIDs: []string{"premium"}, Response: []byte(`{"id":"entry-1"}`), At: at,
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.MarkProcessed(ctx, recs[0].ID, Outcome{Points: 99, At: at})
	require.NoError(t, err)
	require.False(t, ok)

	got, err := svc.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	require.True(t, got.Processed)
	require.Equal(t, StatusProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)
	require.NotNil(t, got.PointsEarned)
	require.EqualValues(t, 3, *got.PointsEarned)
	require.Equal(t, []string{"premium"}, []string(got.AppliedRuleIDs))
	require.JSONEq(t, `{"id":"entry-1"}`, string(got.AccrualResponse))

	page, err := svc.ListUnprocessed(ctx, "c1", nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, recs[1].ID, page[0].ID)
}

func TestIneligibleAndRequeue(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	recs := seed(t, svc, "c1", 3, time.Now().UTC())

	ok, err := svc.MarkIneligible(ctx, recs[0].ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.MarkIneligible(ctx, recs[0].ID, time.Now().UTC())
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.MarkProcessed(ctx, recs[1].ID, Outcome{At: time.Now().UTC()})
	require.NoError(t, err)

	counts, err := svc.CountByStatus(ctx, "c1")
	require.NoError(t, err)
	require.EqualValues(t, 1, counts[StatusIneligible])
	require.EqualValues(t, 1, counts[StatusProcessed])
	require.EqualValues(t, 1, counts[StatusPending])

	page, err := svc.ListUnprocessed(ctx, "c1", nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)

	n, err := svc.RequeueIneligible(ctx, "c1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	page, err = svc.ListUnprocessed(ctx, "c1", nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, recs[0].ID, page[0].ID)
}

func TestGetMissing(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), "nope")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}
