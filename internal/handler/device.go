package handler

import (
	"context"
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/bp"
	"vitalsync/internal/models"
	"vitalsync/internal/session"
)

// DeviceService holds the device-side operations shared by the HTTP API
// and the Kafka ingestion consumer.
type DeviceService struct {
	registry *session.Registry
	pipeline *bp.Pipeline
	log      *zap.Logger
}

func NewDeviceService(registry *session.Registry, pipeline *bp.Pipeline, log *zap.Logger) *DeviceService {
	return &DeviceService{registry: registry, pipeline: pipeline, log: log}
}

// Start arms m for owner. Blood pressure goes through the pipeline so the
// frame buffer is reset with the slot. Only a card scan may start without
// an owner; every other reading is stored against the patient.
func (d *DeviceService) Start(m models.Modality, owner string) error {
	if owner == "" && m != models.CardScan {
		return apperror.Auth("Please log in first.")
	}
	if m == models.BloodPressure {
		return d.pipeline.Start(owner)
	}
	return d.registry.RequestStart(m, owner)
}

// Submit completes the modality's session with a raw JSON payload.
func (d *DeviceService) Submit(ctx context.Context, m models.Modality, raw []byte) error {
	reading, err := ParseReading(m, raw)
	if err != nil {
		return err
	}
	return d.registry.SubmitResult(ctx, m, reading)
}

// Frame appends one raw JSON frame to the BP batch.
func (d *DeviceService) Frame(ctx context.Context, raw []byte) (bp.FrameOutcome, error) {
	var payload models.FramePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return bp.FrameOutcome{}, apperror.Validation("Malformed frame body.")
	}
	return d.pipeline.AppendFrame(ctx, payload)
}

// ParseReading validates a device submission for m.
func ParseReading(m models.Modality, raw []byte) (models.Reading, error) {
	switch m {
	case models.CardScan:
		var p models.TagPayload
		if err := decode(raw, &p); err != nil {
			return models.Reading{}, err
		}
		if err := validation.ValidateStruct(&p, validation.Field(&p.UID, validation.Required)); err != nil {
			return models.Reading{}, apperror.FromValidation(err)
		}
		return models.Reading{TagUID: p.UID}, nil

	case models.BodyTemp:
		var p models.TemperaturePayload
		if err := decode(raw, &p); err != nil {
			return models.Reading{}, err
		}
		if err := validation.ValidateStruct(&p, validation.Field(&p.Temperature, validation.NotNil)); err != nil {
			return models.Reading{}, apperror.FromValidation(err)
		}
		return models.Reading{Value: *p.Temperature}, nil

	case models.SpO2:
		var p models.SpO2Payload
		if err := decode(raw, &p); err != nil {
			return models.Reading{}, err
		}
		if err := validation.ValidateStruct(&p, validation.Field(&p.SpO2, validation.NotNil)); err != nil {
			return models.Reading{}, apperror.FromValidation(err)
		}
		return models.Reading{Value: *p.SpO2}, nil

	case models.EKG:
		var p models.EKGPayload
		if err := decode(raw, &p); err != nil {
			return models.Reading{}, err
		}
		if err := validation.ValidateStruct(&p, validation.Field(&p.EKG, validation.Required)); err != nil {
			return models.Reading{}, apperror.FromValidation(err)
		}
		return models.Reading{Waveform: p.EKG}, nil

	default:
		return models.Reading{}, apperror.Validation("%s results are not submitted directly.", m)
	}
}

func decode(raw []byte, v any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperror.Validation("Malformed request body.")
	}
	return nil
}
