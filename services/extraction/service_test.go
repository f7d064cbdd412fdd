package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"incentive-pipeline/services/campaign"
	"incentive-pipeline/services/job"
	"incentive-pipeline/services/pipeline"
	"incentive-pipeline/services/source"
	"incentive-pipeline/services/testutil"
	"incentive-pipeline/services/transaction"
	"incentive-pipeline/services/transform"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type connectorMock struct {
	connectFn func(ctx context.Context, d source.Descriptor) (source.Conn, error)
}

func (m *connectorMock) Connect(ctx context.Context, d source.Descriptor) (source.Conn, error) {
	return m.connectFn(ctx, d)
}

type connMock struct {
	queryFn func(ctx context.Context, sql string, params ...any) ([]source.Row, error)
	closed  int
}

func (m *connMock) Query(ctx context.Context, sql string, params ...any) ([]source.Row, error) {
	return m.queryFn(ctx, sql, params...)
}

func (m *connMock) Close() error {
	m.closed++
	return nil
}

type archiveMock struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *archiveMock) Put(_ context.Context, object string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.objects[object] = body
	return nil
}

type failingRecords struct {
	transaction.Store
	calls  int
	failAt int
}

type failingCampaigns struct {
	campaign.Store
	err error
}

func (f *failingCampaigns) Get(context.Context, string) (*campaign.Campaign, error) {
	return nil, f.err
}

type lockerMock struct {
	onLost func()
}

func (m *lockerMock) Acquire(_ context.Context, _ string, _ job.LockKind, onLost func()) (func(), bool, error) {
	m.onLost = onLost
	return func() {}, true, nil
}

func (f *failingRecords) BatchCreate(ctx context.Context, records []*transaction.TransactionRecord) error {
	f.calls++
	if f.calls == f.failAt {
		return pipeline.Persistence("failed to store transaction records", errors.New("disk full"))
	}
	return f.Store.BatchCreate(ctx, records)
}

type fixture struct {
	svc       *Service
	campaigns *campaign.Service
	records   *transaction.Service
	jobs      *job.Service
	locker    *job.MemoryLocker
	conn      *connMock
	campaign  *campaign.Campaign
	now       time.Time
}

var salesRows = []source.Row{
	{"customer_id": "u1", "sale_amount": 450.0, "product_line": "Premium", "internal_note": "x"},
	{"customer_id": nil, "sale_amount": 10.0, "product_line": "Basic"},
	{"customer_id": 42, "sale_amount": "99.5", "product_line": "Basic"},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &campaign.Campaign{}, &transaction.TransactionRecord{}, &job.ExtractionJob{}, &job.ProcessingJob{})
	node := testutil.NewNode(t)

	f := &fixture{
		campaigns: campaign.NewService(campaign.ServiceParams{DB: db, Node: node}),
		records:   transaction.NewService(transaction.Params{DB: db}),
		jobs:      job.NewService(job.ServiceParams{DB: db, Node: node}),
		locker:    job.NewMemoryLocker(),
		conn:      &connMock{},
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.conn.queryFn = func(context.Context, string, ...any) ([]source.Row, error) {
		return salesRows, nil
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.campaign = &campaign.Campaign{
		TenantID: "t1",
		Name:     "Premium push",
		Status:   campaign.CampaignStatusActive,
		StartAt:  &start,
		Connection: datatypes.NewJSONType(source.Descriptor{
			Driver: source.DriverPostgres, Host: "sales", Database: "sales", User: "reader",
		}),
		FullLoadQuery:    "SELECT * FROM sales",
		IncrementalQuery: "SELECT * FROM sales WHERE updated_at > $1",
		Mapping: datatypes.NewJSONType(transform.MappingSpec{
			Fields: map[string]string{"customer_id": "participantId", "sale_amount": "amount"},
			Keep:   []string{"product_line"},
		}),
	}
	require.NoError(t, f.campaigns.Create(context.Background(), f.campaign))

	f.svc = NewService(Params{
		Campaigns:  f.campaigns,
		Records:    f.records,
		Jobs:       f.jobs,
		Supervisor: job.NewSupervisor(f.locker, f.jobs),
		Connector: &connectorMock{connectFn: func(context.Context, source.Descriptor) (source.Conn, error) {
			return f.conn, nil
		}},
		Node: node,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) pending(t *testing.T) []*transaction.TransactionRecord {
	t.Helper()
	recs, err := f.records.ListUnprocessed(context.Background(), f.campaign.CampaignID, nil, 100)
	require.NoError(t, err)
	return recs
}

func (f *fixture) checkpoint(t *testing.T) *time.Time {
	t.Helper()
	c, err := f.campaigns.Get(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	return c.Checkpoint
}

func TestRunFull(t *testing.T) {
	f := newFixture(t)
	var gotParams []any
	f.conn.queryFn = func(_ context.Context, sql string, params ...any) ([]source.Row, error) {
		require.Equal(t, "SELECT * FROM sales", sql)
		gotParams = params
		return salesRows, nil
	}

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, j.Status)
	require.Equal(t, job.KindFull, j.Kind)
	require.EqualValues(t, 2, j.RowsExtracted)
	require.EqualValues(t, 1, j.RowsSkipped)
	require.Empty(t, gotParams)
	require.Equal(t, 1, f.conn.closed)

	recs := f.pending(t)
	require.Len(t, recs, 2)
	require.Equal(t, "u1", recs[0].ParticipantID)
	require.Equal(t, "42", recs[1].ParticipantID)
	require.Equal(t, j.ID, recs[0].ExtractionJobID)
	require.Equal(t, "Premium", recs[0].Fields["product_line"])
	require.NotContains(t, recs[0].Fields, "internal_note")
	require.NotContains(t, recs[0].Fields, "customer_id")

	cp := f.checkpoint(t)
	require.NotNil(t, cp)
	require.True(t, f.now.Equal(*cp))
}

func TestRunIncrementalBindsCheckpoint(t *testing.T) {
	f := newFixture(t)
	var bound []any
	f.conn.queryFn = func(_ context.Context, sql string, params ...any) ([]source.Row, error) {
		require.Equal(t, "SELECT * FROM sales WHERE updated_at > $1", sql)
		bound = params
		return nil, nil
	}

	// no checkpoint yet: campaign start time
	j, err := f.svc.RunIncremental(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, j.Status)
	require.Len(t, bound, 1)
	require.True(t, f.campaign.StartAt.Equal(bound[0].(time.Time)))

	first := f.now
	f.now = first.Add(time.Hour)
	_, err = f.svc.RunIncremental(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	require.True(t, first.Equal(bound[0].(time.Time)))
	require.True(t, f.now.Equal(*f.checkpoint(t)))
}

func TestRunSourceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.svc.connector = &connectorMock{connectFn: func(context.Context, source.Descriptor) (source.Conn, error) {
		return nil, pipeline.SourceUnavailable("failed to connect to source", errors.New("connection refused"))
	}}

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.ErrorIs(t, err, pipeline.ErrSourceUnavailable)
	require.True(t, pipeline.Retryable(err))
	require.Equal(t, job.StatusFailed, j.Status)
	require.Contains(t, j.ErrorDetail, "connection refused")
	require.Nil(t, f.checkpoint(t))
	require.Empty(t, f.pending(t))
}

func TestRunMissingQueryIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	c := &campaign.Campaign{
		TenantID:      "t1",
		Name:          "full only",
		Status:        campaign.CampaignStatusActive,
		Connection:    f.campaign.Connection,
		Mapping:       f.campaign.Mapping,
		FullLoadQuery: "SELECT * FROM sales",
	}
	require.NoError(t, f.campaigns.Create(context.Background(), c))

	j, err := f.svc.RunIncremental(context.Background(), c.CampaignID)
	require.ErrorIs(t, err, pipeline.ErrConfiguration)
	require.Equal(t, job.StatusFailed, j.Status)
	require.Equal(t, 0, f.conn.closed)
}

func TestRunRecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.conn.queryFn = func(context.Context, string, ...any) ([]source.Row, error) {
		panic("driver bug")
	}

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.Error(t, err)
	require.Equal(t, job.StatusFailed, j.Status)
	require.Contains(t, j.ErrorDetail, "driver bug")
	require.Equal(t, 1, f.conn.closed)
	require.Nil(t, f.checkpoint(t))

	// the lock was released
	j, err = f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.Error(t, err)
	require.NotNil(t, j)
}

func TestRunRejectsConcurrentExtraction(t *testing.T) {
	f := newFixture(t)
	lease, ok, err := f.svc.supervisor.TryStart(context.Background(), f.campaign.CampaignID, job.LockExtraction)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release()

	_, err = f.svc.RunIncremental(context.Background(), f.campaign.CampaignID)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Empty(t, f.pending(t))
}

func TestRunPersistenceFailureKeepsStoredRows(t *testing.T) {
	f := newFixture(t)
	f.svc.batchSize = 1
	f.svc.records = &failingRecords{Store: f.records, failAt: 2}

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.ErrorIs(t, err, pipeline.ErrPersistence)
	require.Equal(t, job.StatusFailed, j.Status)
	require.EqualValues(t, 1, j.RowsExtracted)
	require.Len(t, f.pending(t), 1)
	require.Nil(t, f.checkpoint(t))
}

func TestRunArchivesRawRows(t *testing.T) {
	f := newFixture(t)
	archive := &archiveMock{objects: map[string][]byte{}}
	f.svc.archive = archive

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	body, ok := archive.objects["extractions/"+f.campaign.CampaignID+"/"+j.ID+".json"]
	require.True(t, ok)
	require.Contains(t, string(body), "internal_note")

	archive.err = errors.New("bucket gone")
	j, err = f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, j.Status)
}

func TestPeerSweepLeavesLiveRunAlone(t *testing.T) {
	f := newFixture(t)
	f.conn.queryFn = func(ctx context.Context, _ string, _ ...any) ([]source.Row, error) {
		// another instance starting up while this run holds the lock
		n, err := job.NewSupervisor(f.locker, f.jobs).ReconcileStale(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
		return salesRows, nil
	}

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, j.Status)
	require.EqualValues(t, 2, j.RowsExtracted)
	require.Empty(t, j.ErrorDetail)
	require.Len(t, f.pending(t), 2)
	cp := f.checkpoint(t)
	require.NotNil(t, cp)
	require.True(t, f.now.Equal(*cp))
}

func TestRunStopsWhenLockLost(t *testing.T) {
	f := newFixture(t)
	locker := &lockerMock{}
	f.svc.supervisor = job.NewSupervisor(locker, f.jobs)
	f.conn.queryFn = func(ctx context.Context, _ string, _ ...any) ([]source.Row, error) {
		locker.onLost()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return salesRows, nil
		}
	}

	j, err := f.svc.RunFull(context.Background(), f.campaign.CampaignID)
	require.ErrorIs(t, err, job.ErrLockLost)
	require.Equal(t, job.StatusFailed, j.Status)
	require.Contains(t, j.ErrorDetail, "lock lost")
	require.Nil(t, f.checkpoint(t))
	require.Empty(t, f.pending(t))
}

func TestRunRecordsJobWhenCampaignLoadFails(t *testing.T) {
	f := newFixture(t)
	f.svc.campaigns = &failingCampaigns{
		Store: f.campaigns,
		err:   pipeline.Persistence("failed to load campaign", errors.New("connection reset")),
	}

	j, err := f.svc.RunIncremental(context.Background(), f.campaign.CampaignID)
	require.ErrorIs(t, err, pipeline.ErrPersistence)
	require.NotNil(t, j)
	require.Equal(t, job.StatusFailed, j.Status)
	require.Equal(t, job.KindIncremental, j.Kind)
	require.Contains(t, j.ErrorDetail, "connection reset")
	require.NotNil(t, j.CompletedAt)

	jobs, err := f.jobs.ListExtractions(context.Background(), f.campaign.CampaignID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestRunUnknownCampaignRecordsNoJob(t *testing.T) {
	f := newFixture(t)

	j, err := f.svc.RunFull(context.Background(), "missing")
	require.Error(t, err)
	require.Nil(t, j)

	jobs, err := f.jobs.ListExtractions(context.Background(), "missing", 10)
	require.NoError(t, err)
	require.Empty(t, jobs)
}
