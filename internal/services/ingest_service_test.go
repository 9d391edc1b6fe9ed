package services

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
	"github.com/otcheredev/ris-dicom-ingest/internal/cache"
	"github.com/otcheredev/ris-dicom-ingest/internal/dicomtest"
	"github.com/otcheredev/ris-dicom-ingest/internal/extract"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/sinks"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
	"github.com/otcheredev/ris-dicom-ingest/pkg/dimse"
)

type fakeQueue struct {
	mu      sync.Mutex
	added   []*models.TransportMetadata
	flushes int
	addErr  error
}

func (q *fakeQueue) Add(ctx context.Context, meta *models.TransportMetadata) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.addErr != nil {
		return q.addErr
	}
	q.added = append(q.added, meta)
	return nil
}

func (q *fakeQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushes++
	return nil
}

type fakeAudits struct {
	audits []*models.AssociationAudit
}

func (a *fakeAudits) Create(ctx context.Context, audit *models.AssociationAudit) error {
	a.audits = append(a.audits, audit)
	return nil
}

func newService(t *testing.T, q Queue, audits AuditWriter) (*IngestService, string) {
	t.Helper()
	root := t.TempDir()
	svc := NewIngestService(IngestConfig{
		Extractor: extract.New([]string{dicomtest.ImplicitVRLittleEndian}, dicomtest.ImplicitVRLittleEndian),
		Store:     storage.NewInstanceStore(root),
		Queue:     q,
		Audits:    audits,
	}, zerolog.Nop())
	return svc, root
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	}))
	return n
}

func TestProcessInstanceWritesFile(t *testing.T) {
	svc, root := newService(t, &fakeQueue{}, nil)
	study := dicomtest.DefaultStudy()

	meta, err := svc.ProcessInstance(context.Background(),
		study.DataSet(dicomtest.ImplicitVRLittleEndian), dicomtest.ImplicitVRLittleEndian,
		models.TenantContext{TenantID: "T1", CallingAE: "MODALITY", SOPClassUID: dicomtest.CTImageStorage, SOPInstanceUID: study.SOPUID})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "T1", "20240101", "1.2.3", "4.5.6", "7.8.9.dcm"), meta.FilePath)
	info, err := os.Stat(meta.FilePath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), meta.FileSize)
	assert.Equal(t, models.NoTransferNeeded, meta.TransferStatus)
}

func TestProcessInstanceWithoutPatientWritesNothing(t *testing.T) {
	svc, root := newService(t, &fakeQueue{}, nil)
	study := dicomtest.DefaultStudy()
	study.PatientID = ""

	_, err := svc.ProcessInstance(context.Background(),
		study.DataSet(dicomtest.ImplicitVRLittleEndian), dicomtest.ImplicitVRLittleEndian,
		models.TenantContext{TenantID: "T1", SOPClassUID: dicomtest.CTImageStorage, SOPInstanceUID: study.SOPUID})
	require.Error(t, err)
	assert.True(t, extract.ErrMissingRequiredField.Has(err))
	assert.Zero(t, countFiles(t, root))
}

func TestHandleStoreQueuesRecord(t *testing.T) {
	q := &fakeQueue{}
	svc, _ := newService(t, q, nil)
	study := dicomtest.DefaultStudy()

	err := svc.HandleStore(context.Background(), &dimse.StoreRequest{
		Association: &dimse.AssociationInfo{
			ID:         "assoc-1",
			CallingAE:  "MODALITY",
			CalledAE:   "INGEST",
			RemoteAddr: "10.0.0.5:40112",
			TenantID:   "T1",
		},
		SOPClassUID:       dicomtest.CTImageStorage,
		SOPInstanceUID:    study.SOPUID,
		TransferSyntaxUID: dicomtest.ExplicitVRLittleEndian,
		Data:              study.DataSet(dicomtest.ExplicitVRLittleEndian),
	})
	require.NoError(t, err)

	require.Len(t, q.added, 1)
	meta := q.added[0]
	assert.Equal(t, "10.0.0.5", meta.SourceIP)
	assert.Equal(t, "MODALITY", meta.SourceAE)
	assert.Equal(t, models.NeedTransfer, meta.TransferStatus)
	assert.Equal(t, dicomtest.ImplicitVRLittleEndian, meta.TargetTransferSyntaxUID)
}

func TestHandleStoreReportsQueueFailure(t *testing.T) {
	q := &fakeQueue{addErr: batch.ErrClosed}
	svc, _ := newService(t, q, nil)
	study := dicomtest.DefaultStudy()

	err := svc.HandleStore(context.Background(), &dimse.StoreRequest{
		Association:       &dimse.AssociationInfo{ID: "assoc-1", TenantID: "T1"},
		SOPClassUID:       dicomtest.CTImageStorage,
		SOPInstanceUID:    study.SOPUID,
		TransferSyntaxUID: dicomtest.ImplicitVRLittleEndian,
		Data:              study.DataSet(dicomtest.ImplicitVRLittleEndian),
	})
	assert.ErrorIs(t, err, batch.ErrClosed)
}

func TestHandleCloseWritesAudit(t *testing.T) {
	audits := &fakeAudits{}
	svc, _ := newService(t, &fakeQueue{}, audits)
	started := time.Now().Add(-time.Second)

	svc.HandleClose(context.Background(),
		&dimse.AssociationInfo{ID: "assoc-1", TenantID: "T1", CallingAE: "MODALITY", CalledAE: "INGEST", RemoteAddr: "10.0.0.5:1", StartedAt: started},
		dimse.Summary{State: dimse.EndAborted, Received: 3, Failed: 1, Duration: 1500 * time.Millisecond, Err: errors.New("peer went away")})

	require.Len(t, audits.audits, 1)
	audit := audits.audits[0]
	assert.Equal(t, "assoc-1", audit.AssociationID)
	assert.Equal(t, "aborted", audit.EndState)
	assert.Equal(t, 3, audit.InstancesReceived)
	assert.Equal(t, 1, audit.InstancesFailed)
	assert.Equal(t, int64(1500), audit.Duration)
	assert.Equal(t, "peer went away", audit.ErrorMessage)
}

// A multi-frame instance sent in an unsupported syntax, split over two
// P-DATA fragments, ends up as a transfer request on the bus once the
// association is released.
func TestStoreOverNetworkPublishesTransferRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := bus.NewRedisBusWithClient(client, 0, zerolog.Nop())
	t.Cleanup(func() { _ = client.Close() })

	topics := sinks.Topics{Main: "topic_main", ChangeTransferSyntax: "topic_change_transfer_syntax"}
	acc := batch.New[*models.TransportMetadata](
		batch.Config{Name: "storage", SizeThreshold: 20, StaleAfter: time.Minute},
		sinks.NewPublishSink(b, sinks.TransportRoute(topics), time.Second, zerolog.Nop()),
	)
	accDone := make(chan error, 1)
	go func() { accDone <- acc.Run(ctx) }()

	svc, root := newService(t, acc, nil)

	study := dicomtest.DefaultStudy()
	study.Frames = 10
	data := study.DataSet(dicomtest.ExplicitVRLittleEndian)

	memCache := cache.NewMemoryCache()
	t.Cleanup(func() { _ = memCache.Close() })
	tenants := NewTenantService(nil, cache.NewTenants(memCache, time.Minute, 0), "T1", zerolog.Nop())

	srv := dimse.NewServer(dimse.ServerConfig{
		AETitle:      "INGEST",
		MaxPDULength: uint32(len(data)/2 + 16),
	}, tenants, svc, zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Serve(ctx, ln) }()

	scu := dimse.NewAssociation(dimse.AssociationConfig{
		Host:             "127.0.0.1",
		Port:             ln.Addr().(*net.TCPAddr).Port,
		CallingAET:       "MODALITY",
		CalledAET:        "INGEST",
		Timeout:          5 * time.Second,
		AbstractSyntaxes: []string{dicomtest.CTImageStorage},
		TransferSyntaxes: []string{dicomtest.ExplicitVRLittleEndian},
	})
	require.NoError(t, scu.Connect(ctx))

	rsp, err := scu.CStore(ctx, dimse.StoreParams{
		SOPClassUID:    dicomtest.CTImageStorage,
		SOPInstanceUID: study.SOPUID,
		Data:           data,
	})
	require.NoError(t, err)
	assert.Equal(t, dimse.StatusSuccess, rsp.Status)
	require.NoError(t, scu.Close())

	sub, err := b.Subscribe(ctx, bus.SubscribeConfig{
		Topic:    topics.ChangeTransferSyntax,
		Group:    "test",
		Consumer: "c1",
		Block:    100 * time.Millisecond,
	})
	require.NoError(t, err)

	var msgs []bus.Message
	require.Eventually(t, func() bool {
		got, err := sub.Fetch(ctx)
		if err != nil {
			return false
		}
		msgs = append(msgs, got...)
		return len(msgs) > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.Len(t, msgs, 1)

	var meta models.TransportMetadata
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &meta))
	assert.Equal(t, meta.TraceID, msgs[0].Key)
	assert.Equal(t, "T1", meta.TenantID)
	assert.Equal(t, models.NeedTransfer, meta.TransferStatus)
	assert.Equal(t, dicomtest.ExplicitVRLittleEndian, meta.TransferSyntaxUID)
	assert.Equal(t, dicomtest.ImplicitVRLittleEndian, meta.TargetTransferSyntaxUID)
	assert.Equal(t, 10, meta.NumberOfFrames)
	assert.Equal(t, "MODALITY", meta.SourceAE)
	assert.Equal(t, "127.0.0.1", meta.SourceIP)
	assert.Equal(t, 1, countFiles(t, root))

	n, err := client.XLen(ctx, topics.Main).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	cancel()
	assert.NoError(t, <-srvDone)
	assert.NoError(t, <-accDone)
}
