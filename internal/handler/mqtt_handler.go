package handler

import (
	"encoding/json"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"vitalsync/internal/models"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// ControlTopic is the wildcard subscription for start requests.
func ControlTopic(prefix string) string {
	if prefix == "" {
		return "+/start"
	}
	return prefix + "/+/start"
}

// NewControlHandler arms a slot for every message on <prefix>/<modality>/start.
// The body is {"uid": "..."}; an empty body starts an anonymous session.
func NewControlHandler(device *DeviceService, log *zap.Logger) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		log.Debug("Received control message", zap.String("topic", msg.Topic()), zap.ByteString("payload", msg.Payload()))

		parts := strings.Split(msg.Topic(), "/")
		if len(parts) < 2 || parts[len(parts)-1] != "start" {
			log.Warn("Unknown control topic", zap.String("topic", msg.Topic()))
			return
		}
		m, err := models.ParseModality(parts[len(parts)-2])
		if err != nil {
			log.Warn("Control message for unknown modality", zap.String("topic", msg.Topic()))
			return
		}

		var ctrl models.ControlMessage
		if len(msg.Payload()) > 0 {
			if err := json.Unmarshal(msg.Payload(), &ctrl); err != nil {
				log.Warn("Error unmarshalling control message", zap.Error(err))
				return
			}
		}

		if err := device.Start(m, ctrl.UID); err != nil {
			log.Warn("Start over MQTT rejected", zap.String("modality", m.String()), zap.Error(err))
			return
		}
		log.Info("Measurement started over MQTT", zap.String("modality", m.String()), zap.String("uid", ctrl.UID))
	}
}

// NewMQTTClient builds a client that subscribes to the control topic on
// every (re)connect. The caller connects it once everything that reacts to
// control messages is in place.
func NewMQTTClient(cfg MQTTConfig, onControl mqtt.MessageHandler, log *zap.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(client mqtt.Client) {
		log.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		topic := ControlTopic(cfg.TopicPrefix)
		token := client.Subscribe(topic, 1, onControl)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error("MQTT subscribe failed", zap.String("topic", topic), zap.Error(err))
			return
		}
		log.Info("Subscribed to topic", zap.String("topic", topic))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warn("MQTT connection lost", zap.Error(err))
	}
	return mqtt.NewClient(opts)
}
