package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Modality identifies one kind of vital-sign measurement. The set is fixed.
type Modality string

const (
	CardScan      Modality = "card_scan"
	BodyTemp      Modality = "body_temp"
	SpO2          Modality = "spo2"
	EKG           Modality = "ekg"
	BloodPressure Modality = "blood_pressure"
)

// Modalities lists every modality in a stable order.
var Modalities = []Modality{CardScan, BodyTemp, SpO2, EKG, BloodPressure}

var activationTokens = map[Modality]string{
	CardScan:      "SCAN",
	BodyTemp:      "measure",
	SpO2:          "spo2start",
	EKG:           "EKGstart",
	BloodPressure: "BPstart",
}

// pathNames maps the URL segment used by the polling API to a modality.
var pathNames = map[string]Modality{
	"card-scan": CardScan,
	"body-temp": BodyTemp,
	"spo2":      SpO2,
	"ekg":       EKG,
	"bp":        BloodPressure,
}

// ActivationToken is the bare signal a device receives when its slot is armed.
func (m Modality) ActivationToken() string {
	return activationTokens[m]
}

func (m Modality) Valid() bool {
	_, ok := activationTokens[m]
	return ok
}

func (m Modality) String() string { return string(m) }

// ParseModalityPath resolves a URL segment such as "body-temp".
func ParseModalityPath(segment string) (Modality, error) {
	m, ok := pathNames[segment]
	if !ok {
		return "", fmt.Errorf("unknown modality %q", segment)
	}
	return m, nil
}

// ParseModality accepts either a URL segment ("body-temp") or a modality
// name ("body_temp").
func ParseModality(s string) (Modality, error) {
	if m, err := ParseModalityPath(s); err == nil {
		return m, nil
	}
	if m := Modality(s); m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// RawSampleFrame is one BP sensor sample. Field names match what the
// devices and the PTT engine exchange on the wire.
type RawSampleFrame struct {
	Timestamp float64  `json:"timestamp"`
	ChannelA  float64  `json:"max30102_ir"`
	ChannelB  float64  `json:"icquanzx"`
	Red       *float64 `json:"max30102_red,omitempty"`
}

// Reading is the payload a device submits to complete a session.
type Reading struct {
	Owner      string    `json:"owner"`
	Value      float64   `json:"value,omitempty"`
	Waveform   []float64 `json:"waveform,omitempty"`
	TagUID     string    `json:"uid,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// --- Persisted records ---

type VitalTestResult struct {
	ID         string    `json:"id"`
	PatientUID string    `json:"thepatient"`
	TestType   string    `json:"testType"`
	Result     float64   `json:"result"`
	CreatedAt  time.Time `json:"createdAt"`
}

type EKGRecord struct {
	ID         string    `json:"id"`
	PatientUID string    `json:"thepatient"`
	Waveform   []float64 `json:"result"`
	TestType   string    `json:"testType"`
	CreatedAt  time.Time `json:"createdAt"`
}

type PTTRecord struct {
	ID         string    `json:"id"`
	PatientUID string    `json:"thepatient"`
	PTT        float64   `json:"PTT"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HistoryEntry is one row of a patient's merged measurement history.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Modality  Modality  `json:"modality"`
	Value     *float64  `json:"value,omitempty"`
	Waveform  []float64 `json:"waveform,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Patient directory ---

type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

type YesNo string

const (
	Yes YesNo = "Yes"
	No  YesNo = "No"
)

// BPCategory is the patient's usual blood-pressure level.
type BPCategory string

const (
	BPLow    BPCategory = "Low"
	BPNormal BPCategory = "Normal"
	BPHigh   BPCategory = "High"
)

// RiskProfile holds the attributes consumed by the SBP estimator.
type RiskProfile struct {
	Age           float64    `json:"age"`
	Gender        Gender     `json:"gender"`
	Smoking       YesNo      `json:"smoking"`
	Exercise      YesNo      `json:"exercise"`
	Hypertension  YesNo      `json:"hypertension"`
	BloodPressure BPCategory `json:"bloodpressure"`
}

func (p RiskProfile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Age, validation.Min(0.0), validation.Max(150.0)),
		validation.Field(&p.Gender, validation.Required, validation.In(Male, Female)),
		validation.Field(&p.Smoking, validation.Required, validation.In(Yes, No)),
		validation.Field(&p.Exercise, validation.Required, validation.In(Yes, No)),
		validation.Field(&p.Hypertension, validation.Required, validation.In(Yes, No)),
		validation.Field(&p.BloodPressure, validation.Required, validation.In(BPLow, BPNormal, BPHigh)),
	)
}

type Patient struct {
	UID      string `json:"uid"`
	FullName string `json:"fullname"`
	RiskProfile
}

func (p Patient) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.UID, validation.Required),
		validation.Field(&p.FullName, validation.Required),
	); err != nil {
		return err
	}
	return p.RiskProfile.Validate()
}

// --- Events ---

type EventStatus string

const (
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventExpired   EventStatus = "expired"
)

// ResultEvent announces the end of a measurement session.
type ResultEvent struct {
	ID       string      `json:"id"`
	Modality Modality    `json:"modality"`
	Owner    string      `json:"owner,omitempty"`
	Status   EventStatus `json:"status"`
	Value    *float64    `json:"value,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	At       time.Time   `json:"at"`
}

// --- Wire payloads ---

type TagPayload struct {
	UID string `json:"uid"`
}

type TemperaturePayload struct {
	Temperature *float64 `json:"temperature"`
}

type SpO2Payload struct {
	SpO2 *float64 `json:"spo2"`
}

type EKGPayload struct {
	EKG []float64 `json:"ekg"`
}

// FramePayload is the raw live-frame body before validation.
type FramePayload struct {
	Timestamp *float64 `json:"timestamp"`
	ChannelA  *float64 `json:"max30102_ir"`
	ChannelB  *float64 `json:"icquanzx"`
	Red       *float64 `json:"max30102_red"`
}

// EngineResult is what a PTT computation engine replies with.
type EngineResult struct {
	Success *bool    `json:"success"`
	PTT     *float64 `json:"PTT,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ControlMessage starts a session over the MQTT control topic.
type ControlMessage struct {
	UID string `json:"uid"`
}
