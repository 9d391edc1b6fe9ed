package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/otcheredev/ris-dicom-ingest/internal/database"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/repository"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "ingest.db")), "silent")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestTenantRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTenantRepository(openDB(t))

	require.NoError(t, repo.Create(ctx, &models.AETitleBinding{AETitle: "CT_SCANNER", TenantID: "T1", IsActive: true}))

	binding, err := repo.GetByAETitle(ctx, "CT_SCANNER")
	require.NoError(t, err)
	assert.Equal(t, "T1", binding.TenantID)

	_, err = repo.GetByAETitle(ctx, "UNKNOWN")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	list, err := repo.ListByTenant(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Deactivate(ctx, "CT_SCANNER"))
	_, err = repo.GetByAETitle(ctx, "CT_SCANNER")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAuditRepository(openDB(t))

	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, &models.AssociationAudit{
		AssociationID: "a1", TenantID: "T1", CallingAE: "CT", EndState: "released", InstancesReceived: 3, StartedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, repo.Create(ctx, &models.AssociationAudit{
		AssociationID: "a2", TenantID: "T1", CallingAE: "CT", EndState: "aborted", StartedAt: now,
	}))

	audits, err := repo.GetByTenantID(ctx, "T1", 10, 0)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "a2", audits[0].AssociationID)

	audits, err = repo.GetByCallingAE(ctx, "CT", 1)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestSaveInstanceListUpsertsByTraceID(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInstanceRepository(openDB(t))

	meta := &models.TransportMetadata{
		TraceID: "trace-1", TenantID: "T1", PatientID: "P", StudyUID: "1.2.3", SeriesUID: "4.5.6", SOPUID: "7.8.9",
		StudyDate: "20240101", FilePath: "/data/x.dcm", FileSize: 10, TransferSyntaxUID: "1.2.840.10008.1.2.4.90",
		TransferStatus: models.NeedTransfer, NumberOfFrames: 1,
	}
	require.NoError(t, repo.SaveInstanceList(ctx, []models.DicomInstance{models.NewDicomInstance(meta)}))

	meta.TransferStatus = models.TransferSuccess
	meta.TransferSyntaxUID = "1.2.840.10008.1.2.1"
	meta.FileSize = 20
	require.NoError(t, repo.SaveInstanceList(ctx, []models.DicomInstance{models.NewDicomInstance(meta)}))

	row, err := repo.GetByTraceID(ctx, "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "Success", row.TransferStatus)
	assert.EqualValues(t, 20, row.FileSize)

	n, err := repo.CountByTenant(ctx, "T1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewStateRepository(openDB(t))

	state := models.StateMeta{TenantID: "T1", PatientID: "P", StudyUID: "1.2.3", SeriesUID: "4.5.6", StudyDate: "20240101", Modality: "CT"}
	require.NoError(t, repo.SaveStateList(ctx, []models.StateMeta{state}))

	state.Modality = "MR"
	require.NoError(t, repo.SaveStateList(ctx, []models.StateMeta{state}))

	states, err := repo.GetStateMetas(ctx, "T1", "", 0)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "MR", states[0].Modality)

	states, err = repo.GetStateMetas(ctx, "T2", "", 0)
	require.NoError(t, err)
	assert.Empty(t, states)

	require.NoError(t, repo.SaveBackupList(ctx, []models.DicomStateBackup{{TenantID: "T1", Payload: `{}`, Reason: "test"}}))

	image := models.ImageMeta{TenantID: "T1", PatientID: "P", StudyUID: "1.2.3", SeriesUID: "4.5.6", SOPUID: "7.8.9", NumberOfFrames: 1}
	require.NoError(t, repo.SaveImageList(ctx, []models.ImageMeta{image}))
	image.NumberOfFrames = 2
	require.NoError(t, repo.SaveImageList(ctx, []models.ImageMeta{image}))

	jsonMeta := models.JsonMeta{TenantID: "T1", StudyUID: "1.2.3", SeriesUID: "4.5.6", FilePath: "/json/a.json", InstanceCount: 1}
	require.NoError(t, repo.SaveJsonList(ctx, []models.JsonMeta{jsonMeta}))
	jsonMeta.InstanceCount = 2
	require.NoError(t, repo.SaveJsonList(ctx, []models.JsonMeta{jsonMeta}))

	metas, err := repo.GetJsonMetas(ctx, "T1", "1.2.3")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 2, metas[0].InstanceCount)
}
