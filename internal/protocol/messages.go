package protocol

import "time"

// SessionState is broadcast whenever a recording session changes state.
type SessionState struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id,omitempty"`
	State     string    `json:"state"`
	Asset     string    `json:"asset,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Translation carries the inference server's tokens for a finished session.
type Translation struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id,omitempty"`
	Tokens    []string  `json:"tokens"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// VoiceSettingsChanged mirrors the persisted settings document for one user.
type VoiceSettingsChanged struct {
	UserID       string    `json:"user_id"`
	VoiceSetting string    `json:"voiceSetting"`
	SpeedSetting float64   `json:"speedSetting"`
	PitchSetting float64   `json:"pitchSetting"`
	Timestamp    time.Time `json:"timestamp"`
}

// SpeakRequest asks the speech capability to utter text.
type SpeakRequest struct {
	SessionID string  `json:"session_id,omitempty"`
	UserID    string  `json:"user_id,omitempty"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
}

// SpeakDone reports that a speak request was handed to the backend.
type SpeakDone struct {
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is a user-facing notification, already localized.
type Alert struct {
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceCapabilities announces the permission state of the local device.
type DeviceCapabilities struct {
	DeviceID     string          `json:"device_id"`
	Capabilities map[string]bool `json:"capabilities"`
	Timestamp    time.Time       `json:"timestamp"`
}

const (
	SubjectSessionState        = "sign.session.state"
	SubjectTranslationFinal    = "sign.translation.final"
	SubjectVoiceSettingsChange = "settings.voice.changed"
	SubjectSpeakRequest        = "speech.request"
	SubjectSpeakDone           = "speech.done"
	SubjectAlert               = "ui.alert"
	SubjectDeviceCapabilities  = "ctrl.device.capabilities"
)
