package dimse_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/ris-dicom-ingest/pkg/dimse"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

type recordingHandler struct {
	mu       sync.Mutex
	stores   []*dimse.StoreRequest
	releases int
	storeErr error
	closed   chan dimse.Summary
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan dimse.Summary, 1)}
}

func (h *recordingHandler) HandleStore(ctx context.Context, req *dimse.StoreRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stores = append(h.stores, req)
	return h.storeErr
}

func (h *recordingHandler) HandleRelease(ctx context.Context, info *dimse.AssociationInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	return nil
}

func (h *recordingHandler) HandleClose(ctx context.Context, info *dimse.AssociationInfo, summary dimse.Summary) {
	h.closed <- summary
}

func (h *recordingHandler) waitClosed(t *testing.T) dimse.Summary {
	t.Helper()
	select {
	case s := <-h.closed:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("association was not closed")
		return dimse.Summary{}
	}
}

type staticResolver map[string]string

func (r staticResolver) Resolve(ctx context.Context, callingAE, calledAE, remoteAddr string) (string, error) {
	if tenant, ok := r[callingAE]; ok {
		return tenant, nil
	}
	return "", errors.New("unknown calling AE")
}

func startServer(t *testing.T, cfg dimse.ServerConfig, handler dimse.InstanceHandler) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := dimse.NewServer(cfg, staticResolver{"MODALITY": "T1"}, handler, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	return ln.Addr().(*net.TCPAddr).Port
}

func newSCU(port int, abstractSyntaxes ...string) *dimse.Association {
	return dimse.NewAssociation(dimse.AssociationConfig{
		Host:             "127.0.0.1",
		Port:             port,
		CallingAET:       "MODALITY",
		CalledAET:        "INGEST",
		Timeout:          5 * time.Second,
		AbstractSyntaxes: abstractSyntaxes,
	})
}

func TestEchoEchoesMessageID(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST"}, handler)

	assoc := newSCU(port)
	ctx := context.Background()
	require.NoError(t, assoc.Connect(ctx))

	rsp, err := assoc.Echo(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, dimse.CEchoRSP, rsp.CommandField)
	assert.Equal(t, uint16(7), rsp.MessageIDBeingRespondedTo)
	assert.Equal(t, dimse.StatusSuccess, rsp.Status)

	require.NoError(t, assoc.Close())

	summary := handler.waitClosed(t)
	assert.Equal(t, dimse.EndReleased, summary.State)
	assert.Equal(t, 1, summary.Echoes)
	assert.Equal(t, 0, summary.Received)
	assert.Empty(t, handler.stores)
	assert.Equal(t, 1, handler.releases)
}

func TestCEchoConnectsLazily(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST"}, handler)

	assoc := newSCU(port)
	require.NoError(t, assoc.CEcho(context.Background()))
	assert.True(t, assoc.IsConnected())
	require.NoError(t, assoc.Close())
	assert.False(t, assoc.IsConnected())

	handler.waitClosed(t)
}

func TestUnknownCallerIsRejected(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST"}, handler)

	assoc := dimse.NewAssociation(dimse.AssociationConfig{
		Host:       "127.0.0.1",
		Port:       port,
		CallingAET: "STRANGER",
		CalledAET:  "INGEST",
		Timeout:    5 * time.Second,
	})
	err := assoc.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, dimse.ErrAssociationRejected.Has(err))
	assert.False(t, assoc.IsConnected())

	summary := handler.waitClosed(t)
	assert.Equal(t, dimse.EndRejected, summary.State)
}

func TestStrictCalledAERejectsOtherTitles(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "ARCHIVE", StrictCalledAE: true}, handler)

	err := newSCU(port).Connect(context.Background())
	require.Error(t, err)
	assert.True(t, dimse.ErrAssociationRejected.Has(err))
	assert.Equal(t, dimse.EndRejected, handler.waitClosed(t).State)
}

func TestUncompressedOnlyRefusesCompressedContexts(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST", UncompressedOnly: true}, handler)

	assoc := dimse.NewAssociation(dimse.AssociationConfig{
		Host:             "127.0.0.1",
		Port:             port,
		CallingAET:       "MODALITY",
		CalledAET:        "INGEST",
		Timeout:          5 * time.Second,
		AbstractSyntaxes: []string{ctImageStorage},
		TransferSyntaxes: []string{dimse.JPEG2000Lossless},
	})
	err := assoc.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, dimse.ErrAssociationRejected.Has(err))

	handler.waitClosed(t)
}

func TestUnsupportedAbstractSyntaxIsNotFatal(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST"}, handler)

	// Study Root C-FIND is not accepted, Verification is
	assoc := newSCU(port, "1.2.840.10008.5.1.4.1.2.2.1", dimse.VerificationSOPClass)
	ctx := context.Background()
	require.NoError(t, assoc.Connect(ctx))

	_, ok := assoc.AcceptedTransferSyntax("1.2.840.10008.5.1.4.1.2.2.1")
	assert.False(t, ok)
	ts, ok := assoc.AcceptedTransferSyntax(dimse.VerificationSOPClass)
	require.True(t, ok)
	assert.Equal(t, dimse.ExplicitVRLittleEndian, ts)

	require.NoError(t, assoc.CEcho(ctx))
	require.NoError(t, assoc.Close())
	handler.waitClosed(t)
}

func TestFragmentedStoreIsReassembled(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}

	handler := newRecordingHandler()
	// the data set needs two P-DATA-TF PDUs at this limit
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST", MaxPDULength: 600}, handler)

	assoc := newSCU(port, ctImageStorage)
	ctx := context.Background()
	require.NoError(t, assoc.Connect(ctx))
	assert.Equal(t, uint32(600), assoc.PeerMaxPDULength())

	rsp, err := assoc.CStore(ctx, dimse.StoreParams{
		MessageID:      11,
		SOPClassUID:    ctImageStorage,
		SOPInstanceUID: "1.2.3.4.5.6",
		Data:           data,
	})
	require.NoError(t, err)
	assert.Equal(t, dimse.CStoreRSP, rsp.CommandField)
	assert.Equal(t, uint16(11), rsp.MessageIDBeingRespondedTo)
	assert.Equal(t, dimse.StatusSuccess, rsp.Status)
	assert.Equal(t, "1.2.3.4.5.6", rsp.AffectedSOPInstanceUID)

	require.NoError(t, assoc.Close())
	summary := handler.waitClosed(t)
	assert.Equal(t, 1, summary.Received)

	require.Len(t, handler.stores, 1)
	req := handler.stores[0]
	assert.True(t, bytes.Equal(data, req.Data))
	assert.Equal(t, ctImageStorage, req.SOPClassUID)
	assert.Equal(t, dimse.ExplicitVRLittleEndian, req.TransferSyntaxUID)
	assert.Equal(t, "T1", req.Association.TenantID)
	assert.Equal(t, "MODALITY", req.Association.CallingAE)
}

func TestStoreFailureStillReportsSuccess(t *testing.T) {
	handler := newRecordingHandler()
	handler.storeErr = errors.New("disk full")
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST"}, handler)

	assoc := newSCU(port, ctImageStorage)
	ctx := context.Background()
	require.NoError(t, assoc.Connect(ctx))

	for i := 0; i < 2; i++ {
		rsp, err := assoc.CStore(ctx, dimse.StoreParams{
			SOPClassUID:    ctImageStorage,
			SOPInstanceUID: "1.2.3",
			Data:           []byte{0x08, 0x00, 0x18, 0x00},
		})
		require.NoError(t, err)
		assert.Equal(t, dimse.StatusSuccess, rsp.Status)
	}

	require.NoError(t, assoc.Close())
	summary := handler.waitClosed(t)
	assert.Equal(t, dimse.EndReleased, summary.State)
	assert.Equal(t, 2, summary.Received)
	assert.Equal(t, 2, summary.Failed)
}

func TestOversizedInstanceAbortsAssociation(t *testing.T) {
	handler := newRecordingHandler()
	port := startServer(t, dimse.ServerConfig{AETitle: "INGEST", MaxInstanceSize: 64}, handler)

	assoc := newSCU(port, ctImageStorage)
	ctx := context.Background()
	require.NoError(t, assoc.Connect(ctx))

	_, err := assoc.CStore(ctx, dimse.StoreParams{
		SOPClassUID:    ctImageStorage,
		SOPInstanceUID: "1.2.3",
		Data:           make([]byte, 128),
	})
	require.Error(t, err)

	summary := handler.waitClosed(t)
	assert.Equal(t, dimse.EndAborted, summary.State)
	assert.True(t, dimse.ProtocolError.Has(summary.Err))
	assert.Empty(t, handler.stores)
}
