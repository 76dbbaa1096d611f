package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vitalsync/internal/models"
	"vitalsync/internal/sbp"
)

// Records is the read side of the result store and patient directory.
type Records interface {
	GetPatient(ctx context.Context, uid string) (models.Patient, error)
	History(ctx context.Context, patientUID string) ([]models.HistoryEntry, error)
	PTTRecords(ctx context.Context, patientUID string) ([]models.PTTRecord, error)
	EKGResults(ctx context.Context, patientUID string) ([]models.EKGRecord, error)
}

type BPHistoryEntry struct {
	ID        string    `json:"id"`
	PTT       float64   `json:"PTT"`
	SBP       string    `json:"sbp"`
	CreatedAt time.Time `json:"createdAt"`
}

// PatientHandler serves the records of the patient set by PatientRequired
// or StaffRequired.
type PatientHandler struct {
	records Records
	log     *zap.Logger
}

func NewPatientHandler(records Records, log *zap.Logger) *PatientHandler {
	return &PatientHandler{records: records, log: log}
}

func (h *PatientHandler) Patient(c *gin.Context) {
	patient, err := h.records.GetPatient(c.Request.Context(), c.GetString(patientContextKey))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "patient": patient})
}

func (h *PatientHandler) History(c *gin.Context) {
	uid := c.GetString(patientContextKey)
	if _, err := h.records.GetPatient(c.Request.Context(), uid); err != nil {
		respondError(c, h.log, err)
		return
	}
	history, err := h.records.History(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": history})
}

// BPHistory lists PTT measurements with the SBP estimated from the
// patient's current risk profile.
func (h *PatientHandler) BPHistory(c *gin.Context) {
	ctx := c.Request.Context()
	patient, err := h.records.GetPatient(ctx, c.GetString(patientContextKey))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	records, err := h.records.PTTRecords(ctx, patient.UID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	entries := make([]BPHistoryEntry, 0, len(records))
	for _, rec := range records {
		est, err := sbp.EstimateSBP(patient.RiskProfile, rec.PTT)
		if err != nil {
			h.log.Warn("Skipping PTT record without a usable estimate", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		entries = append(entries, BPHistoryEntry{
			ID:        rec.ID,
			PTT:       rec.PTT,
			SBP:       est.Formatted,
			CreatedAt: rec.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": entries})
}

func (h *PatientHandler) EKGHistory(c *gin.Context) {
	uid := c.GetString(patientContextKey)
	if _, err := h.records.GetPatient(c.Request.Context(), uid); err != nil {
		respondError(c, h.log, err)
		return
	}
	records, err := h.records.EKGResults(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": records})
}
