package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

// Fixed width so that created_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Test types stored in test_results.
const (
	TestTemperature = "temperature"
	TestSpO2        = "spo2"
	TestEKG         = "ekg"
)

type Repository struct {
	db  *sql.DB
	log *zap.Logger
}

func NewRepository(dbPath string, log *zap.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	repo := NewRepositoryFromDB(db, log)
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewRepositoryFromDB wraps an open handle without touching the schema.
func NewRepositoryFromDB(db *sql.DB, log *zap.Logger) *Repository {
	return &Repository{db: db, log: log}
}

func (r *Repository) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS patients (
        uid TEXT PRIMARY KEY,
        fullname TEXT NOT NULL,
        age REAL NOT NULL,
        gender TEXT NOT NULL,
        smoking TEXT NOT NULL,
        exercise TEXT NOT NULL,
        hypertension TEXT NOT NULL,
        bloodpressure TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS test_results (
        id TEXT PRIMARY KEY,
        thepatient TEXT NOT NULL,
        test_type TEXT NOT NULL,
        result REAL NOT NULL,
        created_at TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS ekg_results (
        id TEXT PRIMARY KEY,
        thepatient TEXT NOT NULL,
        waveform TEXT NOT NULL,
        created_at TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS ptt_records (
        id TEXT PRIMARY KEY,
        thepatient TEXT NOT NULL,
        ptt REAL NOT NULL,
        created_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_test_results_patient ON test_results (thepatient, created_at);
    CREATE INDEX IF NOT EXISTS idx_ekg_results_patient ON ekg_results (thepatient, created_at);
    CREATE INDEX IF NOT EXISTS idx_ptt_records_patient ON ptt_records (thepatient, created_at);`
	_, err := r.db.Exec(schema)
	return err
}

// SaveReading persists a finished measurement. Card scans only identify the
// patient and are not stored.
func (r *Repository) SaveReading(ctx context.Context, m models.Modality, reading models.Reading) error {
	switch m {
	case models.CardScan:
		return nil
	case models.BodyTemp:
		_, err := r.SaveVitalResult(ctx, reading.Owner, TestTemperature, reading.Value, reading.RecordedAt)
		return err
	case models.SpO2:
		_, err := r.SaveVitalResult(ctx, reading.Owner, TestSpO2, reading.Value, reading.RecordedAt)
		return err
	case models.EKG:
		_, err := r.SaveEKGResult(ctx, reading.Owner, reading.Waveform, reading.RecordedAt)
		return err
	case models.BloodPressure:
		_, err := r.SavePTTRecord(ctx, reading.Owner, reading.Value, reading.RecordedAt)
		return err
	default:
		return apperror.Validation("unknown modality %q", m)
	}
}

func (r *Repository) SaveVitalResult(ctx context.Context, patientUID, testType string, value float64, at time.Time) (models.VitalTestResult, error) {
	rec := models.VitalTestResult{
		ID:         uuid.NewString(),
		PatientUID: patientUID,
		TestType:   testType,
		Result:     value,
		CreatedAt:  at.UTC(),
	}
	query := `INSERT INTO test_results (id, thepatient, test_type, result, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.PatientUID, rec.TestType, rec.Result, formatTime(rec.CreatedAt)); err != nil {
		return models.VitalTestResult{}, apperror.Persistence(err, "Could not save the %s result.", testType)
	}
	return rec, nil
}

func (r *Repository) SaveEKGResult(ctx context.Context, patientUID string, waveform []float64, at time.Time) (models.EKGRecord, error) {
	if waveform == nil {
		waveform = []float64{}
	}
	encoded, err := json.Marshal(waveform)
	if err != nil {
		return models.EKGRecord{}, apperror.Persistence(err, "Could not encode the EKG waveform.")
	}
	rec := models.EKGRecord{
		ID:         uuid.NewString(),
		PatientUID: patientUID,
		Waveform:   waveform,
		TestType:   TestEKG,
		CreatedAt:  at.UTC(),
	}
	query := `INSERT INTO ekg_results (id, thepatient, waveform, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.PatientUID, string(encoded), formatTime(rec.CreatedAt)); err != nil {
		return models.EKGRecord{}, apperror.Persistence(err, "Could not save the EKG result.")
	}
	return rec, nil
}

func (r *Repository) SavePTTRecord(ctx context.Context, patientUID string, ptt float64, at time.Time) (models.PTTRecord, error) {
	rec := models.PTTRecord{
		ID:         uuid.NewString(),
		PatientUID: patientUID,
		PTT:        ptt,
		CreatedAt:  at.UTC(),
	}
	query := `INSERT INTO ptt_records (id, thepatient, ptt, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.PatientUID, rec.PTT, formatTime(rec.CreatedAt)); err != nil {
		return models.PTTRecord{}, apperror.Persistence(err, "Could not save the PTT result.")
	}
	return rec, nil
}

// History returns every record of the patient, newest first.
func (r *Repository) History(ctx context.Context, patientUID string) ([]models.HistoryEntry, error) {
	query := `
    SELECT id, test_type, result, NULL, created_at FROM test_results WHERE thepatient = ?
    UNION ALL
    SELECT id, 'ekg', NULL, waveform, created_at FROM ekg_results WHERE thepatient = ?
    UNION ALL
    SELECT id, 'ptt', ptt, NULL, created_at FROM ptt_records WHERE thepatient = ?
    ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, patientUID, patientUID, patientUID)
	if err != nil {
		return nil, apperror.Persistence(err, "Could not load the history.")
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			entry     models.HistoryEntry
			kind      string
			value     sql.NullFloat64
			waveform  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &kind, &value, &waveform, &createdAt); err != nil {
			return nil, apperror.Persistence(err, "Could not read the history.")
		}
		entry.Modality = historyModality(kind)
		if value.Valid {
			v := value.Float64
			entry.Value = &v
		}
		if waveform.Valid {
			if err := json.Unmarshal([]byte(waveform.String), &entry.Waveform); err != nil {
				r.log.Warn("Skipping EKG record with unreadable waveform", zap.String("id", entry.ID), zap.Error(err))
				continue
			}
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			r.log.Warn("Skipping record with unreadable timestamp", zap.String("id", entry.ID), zap.String("created_at", createdAt))
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Persistence(err, "Could not read the history.")
	}
	return entries, nil
}

// PTTRecords returns the patient's PTT measurements, newest first.
func (r *Repository) PTTRecords(ctx context.Context, patientUID string) ([]models.PTTRecord, error) {
	query := `SELECT id, thepatient, ptt, created_at FROM ptt_records WHERE thepatient = ? ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, patientUID)
	if err != nil {
		return nil, apperror.Persistence(err, "Could not load PTT records.")
	}
	defer rows.Close()

	records := []models.PTTRecord{}
	for rows.Next() {
		var rec models.PTTRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.PatientUID, &rec.PTT, &createdAt); err != nil {
			return nil, apperror.Persistence(err, "Could not read PTT records.")
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			r.log.Warn("Skipping PTT record with unreadable timestamp", zap.String("id", rec.ID))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Persistence(err, "Could not read PTT records.")
	}
	return records, nil
}

// EKGResults returns the patient's EKG recordings, newest first.
func (r *Repository) EKGResults(ctx context.Context, patientUID string) ([]models.EKGRecord, error) {
	query := `SELECT id, thepatient, waveform, created_at FROM ekg_results WHERE thepatient = ? ORDER BY created_at DESC, id`
	rows, err := r.db.QueryContext(ctx, query, patientUID)
	if err != nil {
		return nil, apperror.Persistence(err, "Could not load EKG results.")
	}
	defer rows.Close()

	records := []models.EKGRecord{}
	for rows.Next() {
		rec := models.EKGRecord{TestType: TestEKG}
		var waveform, createdAt string
		if err := rows.Scan(&rec.ID, &rec.PatientUID, &waveform, &createdAt); err != nil {
			return nil, apperror.Persistence(err, "Could not read EKG results.")
		}
		if err := json.Unmarshal([]byte(waveform), &rec.Waveform); err != nil {
			r.log.Warn("Skipping EKG record with unreadable waveform", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			r.log.Warn("Skipping EKG record with unreadable timestamp", zap.String("id", rec.ID))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Persistence(err, "Could not read EKG results.")
	}
	return records, nil
}

func (r *Repository) GetPatient(ctx context.Context, uid string) (models.Patient, error) {
	query := `SELECT uid, fullname, age, gender, smoking, exercise, hypertension, bloodpressure FROM patients WHERE uid = ?`
	var p models.Patient
	err := r.db.QueryRowContext(ctx, query, uid).Scan(
		&p.UID,
		&p.FullName,
		&p.Age,
		&p.Gender,
		&p.Smoking,
		&p.Exercise,
		&p.Hypertension,
		&p.BloodPressure,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Patient{}, apperror.NotFound("No patient with tag %q.", uid)
	}
	if err != nil {
		return models.Patient{}, apperror.Persistence(err, "Could not load the patient.")
	}
	return p, nil
}

func (r *Repository) UpsertPatient(ctx context.Context, p models.Patient) error {
	if err := p.Validate(); err != nil {
		return apperror.FromValidation(err)
	}
	query := `INSERT INTO patients (uid, fullname, age, gender, smoking, exercise, hypertension, bloodpressure)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(uid) DO UPDATE SET
        fullname = excluded.fullname,
        age = excluded.age,
        gender = excluded.gender,
        smoking = excluded.smoking,
        exercise = excluded.exercise,
        hypertension = excluded.hypertension,
        bloodpressure = excluded.bloodpressure`
	_, err := r.db.ExecContext(ctx, query,
		p.UID, p.FullName, p.Age, string(p.Gender), string(p.Smoking), string(p.Exercise), string(p.Hypertension), string(p.BloodPressure))
	if err != nil {
		return apperror.Persistence(err, "Could not save the patient.")
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func historyModality(kind string) models.Modality {
	switch kind {
	case TestTemperature:
		return models.BodyTemp
	case TestSpO2:
		return models.SpO2
	case TestEKG:
		return models.EKG
	case "ptt":
		return models.BloodPressure
	default:
		return models.Modality(kind)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return t, nil
}
