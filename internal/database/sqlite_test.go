package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/database"
	"vitalsync/internal/models"
)

func newMemoryRepo(t *testing.T) *database.Repository {
	t.Helper()
	repo, err := database.NewRepository(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func samplePatient() models.Patient {
	return models.Patient{
		UID:      "04:A3:1B:22",
		FullName: "Asha Perera",
		RiskProfile: models.RiskProfile{
			Age:           45,
			Gender:        models.Female,
			Smoking:       models.No,
			Exercise:      models.Yes,
			Hypertension:  models.No,
			BloodPressure: models.BPNormal,
		},
	}
}

func TestSaveReading_RoutesByModality(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveReading(ctx, models.BodyTemp, models.Reading{Owner: "p1", Value: 36.8, RecordedAt: base}))
	require.NoError(t, repo.SaveReading(ctx, models.SpO2, models.Reading{Owner: "p1", Value: 97, RecordedAt: base.Add(time.Minute)}))
	require.NoError(t, repo.SaveReading(ctx, models.EKG, models.Reading{Owner: "p1", Waveform: []float64{0.1, 0.4, -0.2}, RecordedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, repo.SaveReading(ctx, models.BloodPressure, models.Reading{Owner: "p1", Value: 231.5, RecordedAt: base.Add(3 * time.Minute)}))
	require.NoError(t, repo.SaveReading(ctx, models.CardScan, models.Reading{TagUID: "p1", RecordedAt: base}))
	require.NoError(t, repo.SaveReading(ctx, models.SpO2, models.Reading{Owner: "someone-else", Value: 90, RecordedAt: base.Add(time.Hour)}))

	history, err := repo.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, models.BloodPressure, history[0].Modality)
	assert.Equal(t, 231.5, *history[0].Value)
	assert.Equal(t, models.EKG, history[1].Modality)
	assert.Equal(t, []float64{0.1, 0.4, -0.2}, history[1].Waveform)
	assert.Nil(t, history[1].Value)
	assert.Equal(t, models.SpO2, history[2].Modality)
	assert.Equal(t, models.BodyTemp, history[3].Modality)
	assert.Equal(t, base, history[3].CreatedAt)
}

func TestHistory_SubSecondOrdering(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	// 9 ms and 10 ms must not be compared as "…09" vs "…1".
	_, err := repo.SavePTTRecord(ctx, "p1", 1, base.Add(9*time.Millisecond))
	require.NoError(t, err)
	_, err = repo.SavePTTRecord(ctx, "p1", 2, base.Add(10*time.Millisecond))
	require.NoError(t, err)

	records, err := repo.PTTRecords(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2.0, records[0].PTT)
	assert.Equal(t, 1.0, records[1].PTT)
}

func TestEKGResults_NewestFirst(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.SaveEKGResult(ctx, "p1", []float64{1, 2}, base)
	require.NoError(t, err)
	_, err = repo.SaveEKGResult(ctx, "p1", nil, base.Add(time.Second))
	require.NoError(t, err)

	records, err := repo.EKGResults(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Empty(t, records[0].Waveform)
	assert.Equal(t, []float64{1, 2}, records[1].Waveform)
	assert.Equal(t, database.TestEKG, records[1].TestType)
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	repo := newMemoryRepo(t)
	history, err := repo.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestPatients(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()

	_, err := repo.GetPatient(ctx, "04:A3:1B:22")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	p := samplePatient()
	require.NoError(t, repo.UpsertPatient(ctx, p))
	got, err := repo.GetPatient(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	p.Age = 46
	p.Smoking = models.Yes
	require.NoError(t, repo.UpsertPatient(ctx, p))
	got, err = repo.GetPatient(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, 46.0, got.Age)
	assert.Equal(t, models.Yes, got.Smoking)
}

func TestUpsertPatient_Validates(t *testing.T) {
	repo := newMemoryRepo(t)
	p := samplePatient()
	p.Gender = "Unknown"

	err := repo.UpsertPatient(context.Background(), p)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	assert.Contains(t, err.Error(), "gender")
}

func setupMockRepo(t *testing.T) (sqlmock.Sqlmock, *database.Repository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, database.NewRepositoryFromDB(db, zap.NewNop())
}

func TestSaveReading_WriteFailureIsPersistenceError(t *testing.T) {
	mock, repo := setupMockRepo(t)

	mock.ExpectExec(`INSERT INTO test_results`).
		WithArgs(sqlmock.AnyArg(), "p1", database.TestTemperature, 37.1, sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	err := repo.SaveReading(context.Background(), models.BodyTemp, models.Reading{Owner: "p1", Value: 37.1, RecordedAt: time.Now()})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindPersistence))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_QueryFailure(t *testing.T) {
	mock, repo := setupMockRepo(t)

	mock.ExpectQuery(`SELECT`).
		WithArgs("p1", "p1", "p1").
		WillReturnError(errors.New("database is locked"))

	_, err := repo.History(context.Background(), "p1")
	assert.True(t, apperror.Is(err, apperror.KindPersistence))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPTTRecords_SkipsUnreadableTimestamps(t *testing.T) {
	mock, repo := setupMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "thepatient", "ptt", "created_at"}).
		AddRow("a", "p1", 210.0, "2024-03-01T09:00:00.000000000Z").
		AddRow("b", "p1", 220.0, "yesterday")
	mock.ExpectQuery(`SELECT id, thepatient, ptt, created_at FROM ptt_records`).
		WithArgs("p1").
		WillReturnRows(rows)

	records, err := repo.PTTRecords(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
