package notify

import (
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"vitalsync/internal/models"
)

const publishTimeout = 5 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes result events to <prefix>/<modality>/result.
type MQTTPublisher struct {
	client mqttPublisher
	prefix string
	log    *zap.Logger
}

func NewMQTTPublisher(client mqttPublisher, prefix string, log *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, log: log}
}

// Topic joins a topic under prefix, e.g. Topic("vitalsync", "spo2", "result").
func Topic(prefix string, m models.Modality, leaf string) string {
	parts := []string{string(m), leaf}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (p *MQTTPublisher) Notify(ev models.ResultEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("Could not encode result event", zap.String("id", ev.ID), zap.Error(err))
		return
	}
	topic := Topic(p.prefix, ev.Modality, "result")
	token := p.client.Publish(topic, 1, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn("Result event publish timed out", zap.String("topic", topic), zap.String("id", ev.ID))
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn("Result event publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}
