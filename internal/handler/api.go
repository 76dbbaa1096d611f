package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
	"vitalsync/internal/session"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

var startMessages = map[models.Modality]string{
	models.CardScan:      "Card scan started. Present the tag to the reader.",
	models.BodyTemp:      "Body temperature measurement started.",
	models.SpO2:          "SpO2 measurement started.",
	models.EKG:           "EKG measurement started.",
	models.BloodPressure: "Blood pressure measurement started.",
}

// MeasurementHandler serves the start/activation/submit/result polling
// endpoints.
type MeasurementHandler struct {
	registry *session.Registry
	device   *DeviceService
	pinger   Pinger
	log      *zap.Logger
}

func NewMeasurementHandler(registry *session.Registry, device *DeviceService, pinger Pinger, log *zap.Logger) *MeasurementHandler {
	return &MeasurementHandler{registry: registry, device: device, pinger: pinger, log: log}
}

// Start arms a slot for the logged-in patient. A card scan may be started
// without a login, since the scan is how a patient is identified.
func (h *MeasurementHandler) Start(m models.Modality) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.device.Start(m, sessionPatient(c)); err != nil {
			respondError(c, h.log, err)
			return
		}
		respondOK(c, startMessages[m])
	}
}

// Activation is polled by the device. It answers with the bare start token
// once per armed session.
func (h *MeasurementHandler) Activation(m models.Modality) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := h.registry.PollForActivation(m)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"success": false})
			return
		}
		c.String(http.StatusOK, token)
	}
}

func (h *MeasurementHandler) Submit(m models.Modality) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			respondError(c, h.log, apperror.Validation("Could not read request body."))
			return
		}
		if err := h.device.Submit(c.Request.Context(), m, raw); err != nil {
			respondError(c, h.log, err)
			return
		}
		respondOK(c, "Result received.")
	}
}

// Result hands the finished reading to its owner exactly once. Card-scan
// results are open since the scan is what identifies the patient.
func (h *MeasurementHandler) Result(m models.Modality) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reading models.Reading
		var ok bool
		if m == models.CardScan {
			reading, ok = h.registry.PollForResult(m)
		} else {
			owner := sessionPatient(c)
			if owner == "" {
				respondError(c, h.log, apperror.Auth("Please log in first."))
				return
			}
			reading, ok = h.registry.ClaimResult(m, owner)
		}
		if !ok {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "No result yet."})
			return
		}
		body := gin.H{"success": true}
		switch m {
		case models.CardScan:
			body["uid"] = reading.TagUID
		case models.BodyTemp:
			body["temperature"] = reading.Value
		case models.SpO2:
			body["spo2"] = reading.Value
		case models.EKG:
			body["ekg"] = reading.Waveform
		}
		c.JSON(http.StatusOK, body)
	}
}

// BPStart arms the BP slot and empties the frame buffer.
func (h *MeasurementHandler) BPStart(c *gin.Context) {
	if err := h.device.Start(models.BloodPressure, sessionPatient(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, startMessages[models.BloodPressure])
}

func (h *MeasurementHandler) LiveFrame(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		respondError(c, h.log, apperror.Validation("Could not read request body."))
		return
	}
	out, err := h.device.Frame(c.Request.Context(), raw)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if out.Triggered {
		respondOK(c, "PTT computed and stored.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "buffered": out.Buffered})
}

// BPLatest reports readiness only; the PTT value is read from the history.
func (h *MeasurementHandler) BPLatest(c *gin.Context) {
	owner := sessionPatient(c)
	if owner == "" {
		respondError(c, h.log, apperror.Auth("Please log in first."))
		return
	}
	if _, ok := h.registry.ClaimResult(models.BloodPressure, owner); !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Blood pressure result not ready."})
		return
	}
	respondOK(c, "Blood pressure measurement complete.")
}

func (h *MeasurementHandler) Health(c *gin.Context) {
	if err := h.pinger.Ping(c.Request.Context()); err != nil {
		h.log.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "database unavailable"})
		return
	}
	slots := gin.H{}
	for _, s := range h.registry.Snapshot() {
		slots[s.Modality.String()] = gin.H{"active": s.Active, "result": s.HasResult}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "slots": slots})
}
