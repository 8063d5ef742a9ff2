package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	TraceExporter  string `yaml:"trace_exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Device      DeviceConfig    `yaml:"device"`
	Capture     CaptureConfig   `yaml:"capture"`
	Translate   TranslateConfig `yaml:"translate"`
	Settings    SettingsConfig  `yaml:"settings"`
	Speech      SpeechConfig    `yaml:"speech"`
	Router      RouterConfig    `yaml:"router"`
	History     HistoryConfig   `yaml:"history"`
	Alerts      AlertsConfig    `yaml:"alerts"`
	DevServer   DevServerConfig `yaml:"devserver"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DeviceConfig identifies the local device and its initial permission grants.
type DeviceConfig struct {
	ID           string             `yaml:"id"`
	Capabilities []DeviceCapability `yaml:"capabilities"`
}

type DeviceCapability struct {
	Name    string `yaml:"name"`
	Granted bool   `yaml:"granted"`
}

type CaptureConfig struct {
	Mode        string `yaml:"mode"` // mock, exec
	Command     string `yaml:"command"`
	OutputDir   string `yaml:"output_dir"`
	Extension   string `yaml:"extension"`
	StopGraceMS int    `yaml:"stop_grace_ms"`
	MockAsset   string `yaml:"mock_asset"`
}

type TranslateConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SettingsConfig struct {
	Path         string  `yaml:"path"`
	DefaultVoice string  `yaml:"default_voice"`
	DefaultRate  float64 `yaml:"default_rate"`
	DefaultPitch float64 `yaml:"default_pitch"`
}

type SpeechConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

type RouterConfig struct {
	AutoSpeak bool `yaml:"auto_speak"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AlertsConfig struct {
	Locale string `yaml:"locale"`
}

type DevServerConfig struct {
	Bind       string   `yaml:"bind"`
	Port       int      `yaml:"port"`
	UploadDir  string   `yaml:"upload_dir"`
	Recognizer string   `yaml:"recognizer"` // mock, exec
	Command    string   `yaml:"command"`
	MockResult []string `yaml:"mock_result"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-sign",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			TraceExporter:  "none",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4223,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4223"},
			ConnectTimeout: 2000,
		},
		Device: DeviceConfig{
			ID: "loqa-sign-device-1",
			Capabilities: []DeviceCapability{
				{Name: "camera", Granted: false},
				{Name: "microphone", Granted: false},
				{Name: "speech", Granted: true},
			},
		},
		Capture: CaptureConfig{
			Mode:        "mock",
			OutputDir:   "./data/captures",
			Extension:   "mp4",
			StopGraceMS: 1500,
		},
		Translate: TranslateConfig{
			BaseURL:   "http://localhost:5000",
			TimeoutMS: 60000,
		},
		Settings: SettingsConfig{
			Path:         "./data/loqa-sign-settings.db",
			DefaultVoice: "en-au-x-aub-network",
			DefaultRate:  1,
			DefaultPitch: 1,
		},
		Speech: SpeechConfig{
			Enabled: true,
			Mode:    "mock",
		},
		History: HistoryConfig{
			Path:          "./data/loqa-sign-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Alerts: AlertsConfig{
			Locale: "en",
		},
		DevServer: DevServerConfig{
			Bind:       "0.0.0.0",
			Port:       5000,
			UploadDir:  "./uploads",
			Recognizer: "mock",
			MockResult: []string{"HELLO", "WORLD"},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_SIGN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_SIGN_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_SIGN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_SIGN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_SIGN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_SIGN_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_SIGN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_SIGN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_SIGN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_SIGN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_SIGN_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_SIGN_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_SIGN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_SIGN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_SIGN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_SIGN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_SIGN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_SIGN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Device.ID, "LOQA_SIGN_DEVICE_ID")
	overrideGrant(cfg, "camera", "LOQA_SIGN_GRANT_CAMERA")
	overrideGrant(cfg, "microphone", "LOQA_SIGN_GRANT_MICROPHONE")
	overrideGrant(cfg, "speech", "LOQA_SIGN_GRANT_SPEECH")
	overrideString(&cfg.Capture.Mode, "LOQA_SIGN_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "LOQA_SIGN_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.OutputDir, "LOQA_SIGN_CAPTURE_OUTPUT_DIR")
	overrideString(&cfg.Capture.Extension, "LOQA_SIGN_CAPTURE_EXTENSION")
	overrideInt(&cfg.Capture.StopGraceMS, "LOQA_SIGN_CAPTURE_STOP_GRACE_MS")
	overrideString(&cfg.Capture.MockAsset, "LOQA_SIGN_CAPTURE_MOCK_ASSET")
	// The mobile app read its inference endpoint from EXPO_PUBLIC_API_URL;
	// honour it first so existing .env files keep working.
	overrideString(&cfg.Translate.BaseURL, "EXPO_PUBLIC_API_URL")
	overrideString(&cfg.Translate.BaseURL, "LOQA_SIGN_TRANSLATE_BASE_URL")
	overrideInt(&cfg.Translate.TimeoutMS, "LOQA_SIGN_TRANSLATE_TIMEOUT_MS")
	overrideString(&cfg.Settings.Path, "LOQA_SIGN_SETTINGS_PATH")
	overrideString(&cfg.Settings.DefaultVoice, "LOQA_SIGN_SETTINGS_DEFAULT_VOICE")
	overrideFloat(&cfg.Settings.DefaultRate, "LOQA_SIGN_SETTINGS_DEFAULT_RATE")
	overrideFloat(&cfg.Settings.DefaultPitch, "LOQA_SIGN_SETTINGS_DEFAULT_PITCH")
	overrideBool(&cfg.Speech.Enabled, "LOQA_SIGN_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "LOQA_SIGN_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "LOQA_SIGN_SPEECH_COMMAND")
	overrideBool(&cfg.Router.AutoSpeak, "LOQA_SIGN_ROUTER_AUTO_SPEAK")
	overrideString(&cfg.History.Path, "LOQA_SIGN_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_SIGN_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_SIGN_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "LOQA_SIGN_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "LOQA_SIGN_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Alerts.Locale, "LOQA_SIGN_ALERTS_LOCALE")
	overrideString(&cfg.DevServer.Bind, "LOQA_SIGN_DEVSERVER_BIND")
	overrideInt(&cfg.DevServer.Port, "LOQA_SIGN_DEVSERVER_PORT")
	overrideString(&cfg.DevServer.UploadDir, "LOQA_SIGN_DEVSERVER_UPLOAD_DIR")
	overrideString(&cfg.DevServer.Recognizer, "LOQA_SIGN_DEVSERVER_RECOGNIZER")
	overrideString(&cfg.DevServer.Command, "LOQA_SIGN_DEVSERVER_COMMAND")
	overrideStringSlice(&cfg.DevServer.MockResult, "LOQA_SIGN_DEVSERVER_MOCK_RESULT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideGrant(cfg *Config, name, envKey string) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	granted, err := strconv.ParseBool(value)
	if err != nil {
		return
	}
	for i := range cfg.Device.Capabilities {
		if cfg.Device.Capabilities[i].Name == name {
			cfg.Device.Capabilities[i].Granted = granted
			return
		}
	}
	cfg.Device.Capabilities = append(cfg.Device.Capabilities, DeviceCapability{Name: name, Granted: granted})
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Device.ID == "" {
		return errors.New("device.id must not be empty")
	}
	for _, c := range cfg.Device.Capabilities {
		if c.Name == "" {
			return errors.New("device.capabilities entries must have a name")
		}
	}
	switch cfg.Capture.Mode {
	case "mock":
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
		if cfg.Capture.OutputDir == "" {
			return errors.New("capture.output_dir must be set when mode=exec")
		}
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if strings.TrimSpace(cfg.Capture.Extension) == "" {
		return errors.New("capture.extension must not be empty")
	}
	if strings.TrimSpace(cfg.Translate.BaseURL) == "" {
		return errors.New("translate.base_url must not be empty")
	}
	if cfg.Translate.TimeoutMS <= 0 {
		return errors.New("translate.timeout_ms must be positive")
	}
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	if cfg.Settings.DefaultVoice == "" {
		return errors.New("settings.default_voice must not be empty")
	}
	if cfg.Settings.DefaultRate <= 0 {
		return errors.New("settings.default_rate must be positive")
	}
	if cfg.Settings.DefaultPitch < 0 || cfg.Settings.DefaultPitch > 2 {
		return errors.New("settings.default_pitch must be within [0,2]")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "exec":
		default:
			return errors.New("speech.mode must be one of mock|exec")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
	}
	if cfg.History.Path == "" && cfg.History.RetentionMode != "ephemeral" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.DevServer.Recognizer {
	case "mock":
	case "exec":
		if cfg.DevServer.Command == "" {
			return errors.New("devserver.command must be set when recognizer=exec")
		}
	default:
		return errors.New("devserver.recognizer must be one of mock|exec")
	}
	return nil
}
