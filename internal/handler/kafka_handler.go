package handler

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

const (
	MessageFrame  = "frame"
	MessageSubmit = "submit"
)

// DeviceMessage is what device gateways forward on the device topic.
type DeviceMessage struct {
	Modality string          `json:"modality"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// DeviceRouter feeds device-topic messages into the same operations as the
// HTTP device endpoints.
type DeviceRouter struct {
	device *DeviceService
	log    *zap.Logger
}

func NewDeviceRouter(device *DeviceService, log *zap.Logger) *DeviceRouter {
	return &DeviceRouter{device: device, log: log}
}

// RouteDeviceMessage handles one message. Bad messages are logged and
// dropped; the error is returned for tests.
func (r *DeviceRouter) RouteDeviceMessage(ctx context.Context, msgValue []byte) error {
	var msg DeviceMessage
	if err := json.Unmarshal(msgValue, &msg); err != nil {
		r.log.Warn("Error unmarshalling device message", zap.Error(err), zap.ByteString("raw", msgValue))
		return apperror.Validation("malformed device message")
	}

	m, err := models.ParseModality(msg.Modality)
	if err != nil {
		r.log.Warn("Device message for unknown modality, ignoring", zap.String("modality", msg.Modality))
		return apperror.Validation("%v", err)
	}

	switch {
	case msg.Type == MessageFrame && m == models.BloodPressure:
		_, err = r.device.Frame(ctx, msg.Payload)
	case msg.Type == MessageSubmit && m != models.BloodPressure:
		err = r.device.Submit(ctx, m, msg.Payload)
	default:
		err = apperror.Validation("unsupported %q message for %s", msg.Type, m)
	}

	if err != nil {
		fields := []zap.Field{zap.String("modality", m.String()), zap.String("type", msg.Type), zap.Error(err)}
		if apperror.StatusCode(err) < 500 {
			r.log.Warn("Device message rejected", fields...)
		} else {
			r.log.Error("Device message failed", fields...)
		}
	}
	return err
}

type ConsumerConfig struct {
	Brokers string
	Group   string
	Topic   string
}

// RunConsumer polls topic until ctx is cancelled and passes every message
// value to handle.
func RunConsumer(ctx context.Context, cfg ConsumerConfig, handle func(context.Context, []byte) error, log *zap.Logger) error {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"group.id":          cfg.Group,
		// Frames are only useful while their session is live.
		"auto.offset.reset": "latest",
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	if err := consumer.Subscribe(cfg.Topic, nil); err != nil {
		return err
	}

	log.Info("Consumer started", zap.String("topic", cfg.Topic), zap.String("group", cfg.Group))

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping consumer", zap.String("topic", cfg.Topic))
			return nil
		default:
			ev := consumer.Poll(100)
			if ev == nil {
				continue
			}
			switch e := ev.(type) {
			case *kafka.Message:
				_ = handle(ctx, e.Value)
			case kafka.Error:
				log.Warn("Kafka error", zap.Error(e), zap.Bool("fatal", e.IsFatal()))
				if e.IsFatal() {
					return e
				}
			}
		}
	}
}
