package notify_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vitalsync/internal/models"
	"vitalsync/internal/notify"
)

type fakeProducer struct {
	msgs []*kafka.Message
	err  error
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func sampleEvent() models.ResultEvent {
	v := 36.9
	return models.ResultEvent{
		ID:       "ev-1",
		Modality: models.BodyTemp,
		Owner:    "04:A3:1B:22",
		Status:   models.EventCompleted,
		Value:    &v,
		At:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Notify(t *testing.T) {
	p := &fakeProducer{}
	pub := notify.NewKafkaPublisher(p, "vitalsync-results", zap.NewNop())

	pub.Notify(sampleEvent())

	require.Len(t, p.msgs, 1)
	msg := p.msgs[0]
	assert.Equal(t, "vitalsync-results", *msg.TopicPartition.Topic)
	assert.Equal(t, []byte("body_temp"), msg.Key)

	var got models.ResultEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, 36.9, *got.Value)
}

func TestKafkaPublisher_QueueFullIsNotFatal(t *testing.T) {
	p := &fakeProducer{err: errors.New("Local: Queue full")}
	pub := notify.NewKafkaPublisher(p, "vitalsync-results", zap.NewNop())
	assert.NotPanics(t, func() { pub.Notify(sampleEvent()) })
}

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu    sync.Mutex
	calls []publishCall
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return &doneToken{}
}

func TestMQTTPublisher_Notify(t *testing.T) {
	client := &fakeMQTT{}
	pub := notify.NewMQTTPublisher(client, "vitalsync", zap.NewNop())

	pub.Notify(sampleEvent())

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, "vitalsync/body_temp/result", call.topic)
	assert.Equal(t, byte(1), call.qos)
	assert.False(t, call.retained)
	assert.JSONEq(t, `{"id":"ev-1","modality":"body_temp","owner":"04:A3:1B:22","status":"completed","value":36.9,"at":"2024-03-01T09:00:00Z"}`, string(call.payload))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "clinic/ekg/start", notify.Topic("clinic", models.EKG, "start"))
	assert.Equal(t, "spo2/result", notify.Topic("", models.SpO2, "result"))
}
