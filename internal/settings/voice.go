package settings

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-sign/internal/config"
)

var ErrInvalidVoice = errors.New("invalid voice settings")

// Voice is the text-to-speech triple a user has chosen.
type Voice struct {
	VoiceID string  `json:"voice"`
	Rate    float64 `json:"rate"`
	Pitch   float64 `json:"pitch"`
}

// Document is the persisted shape, kept compatible with the mobile app's
// per-user settings document.
type Document struct {
	VoiceSetting string  `json:"voiceSetting"`
	SpeedSetting float64 `json:"speedSetting"`
	PitchSetting float64 `json:"pitchSetting"`
}

// Defaults applied when a user has never saved settings.
var Defaults = Voice{VoiceID: "en-au-x-aub-network", Rate: 1, Pitch: 1}

// DefaultsFromConfig reads the configured fallback triple.
func DefaultsFromConfig(cfg config.SettingsConfig) Voice {
	v := Voice{VoiceID: cfg.DefaultVoice, Rate: cfg.DefaultRate, Pitch: cfg.DefaultPitch}
	if v.Validate() != nil {
		return Defaults
	}
	return v
}

func (v Voice) Validate() error {
	if v.VoiceID == "" {
		return fmt.Errorf("%w: voice must not be empty", ErrInvalidVoice)
	}
	if v.Rate <= 0 {
		return fmt.Errorf("%w: rate must be positive, got %v", ErrInvalidVoice, v.Rate)
	}
	if v.Pitch < 0 || v.Pitch > 2 {
		return fmt.Errorf("%w: pitch must be within [0,2], got %v", ErrInvalidVoice, v.Pitch)
	}
	return nil
}

func (v Voice) Document() Document {
	return Document{VoiceSetting: v.VoiceID, SpeedSetting: v.Rate, PitchSetting: v.Pitch}
}

func (d Document) Voice() Voice {
	return Voice{VoiceID: d.VoiceSetting, Rate: d.SpeedSetting, Pitch: d.PitchSetting}
}
