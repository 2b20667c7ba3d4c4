package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen      = ":8080"
	defaultHealthPath      = "/healthz"
	defaultReadyPath       = "/readyz"
	defaultMetricsPath     = "/metrics"
	defaultMaxBodyBytes    = 1 << 20
	defaultNATSURL         = "nats://127.0.0.1:4222"
	defaultNATSSubject     = "klaxer.alerts.>"
	defaultNATSStream      = "KLAXER_ALERTS"
	defaultNATSConsumer    = "klaxer-ingest"
	defaultNATSGroup       = "klaxer-workers"
	defaultNATSAckWaitSec  = 30
	defaultNATSNackDelayMS = 1000
	defaultNATSMaxDeliver  = -1
	defaultNATSMaxPending  = 1024
	defaultReloadSeconds   = 30
	defaultSlackBaseURL    = "https://slack.com/api"
	defaultSlackBotName    = "klaxer"
	defaultSinkTimeoutSec  = 10

	// SinkKindSlack selects the Slack Web API chat sink.
	SinkKindSlack = "slack"
	// SinkKindTelegram selects the Telegram Bot API chat sink.
	SinkKindTelegram = "telegram"
)

// Config holds service runtime settings and per-service alert rules.
// Params: TOML sections from a file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceSettings `toml:"service"`
	Log      LogConfig       `toml:"log"`
	Ingest   IngestConfig    `toml:"ingest"`
	Sink     SinkConfig      `toml:"sink"`
	Services []ServiceRules  `toml:"-"`
}

// rawConfig mirrors the TOML model before runtime normalization.
// Params: decoded sections with services keyed by name.
// Returns: intermediate model used for normalization and directory merges.
type rawConfig struct {
	Service  ServiceSettings            `toml:"service"`
	Log      LogConfig                  `toml:"log"`
	Ingest   IngestConfig               `toml:"ingest"`
	Sink     SinkConfig                 `toml:"sink"`
	Services map[string]rawServiceRules `toml:"services"`
}

// rawServiceRules stores one service body from a `[services.<name>]` table.
// Params: rule fields except the key-derived service name.
// Returns: intermediate service body used for normalization.
type rawServiceRules struct {
	Token          string     `toml:"token"`
	ClassifyPolicy string     `toml:"classify_policy"`
	Message        FieldRules `toml:"message"`
	Title          FieldRules `toml:"title"`
}

// ServiceSettings contains process-level settings.
// Params: service name and rule reload controls.
// Returns: service behavior defaults.
type ServiceSettings struct {
	Name              string `toml:"name"`
	ReloadEnabled     bool   `toml:"reload_enabled"`
	ReloadIntervalSec int    `toml:"reload_interval_sec"`
}

// LogConfig defines console and file log sinks.
// Params: per-sink enable/level/format settings.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig configures one log output.
// Params: enable flag, minimum level, line/json format, and file path.
// Returns: one sink description.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound alert interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP webhook endpoint.
// Params: enable flag, listen address, utility paths, and body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection, subject layout, and ack/redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// SinkConfig selects and configures the chat destination.
// Params: sink kind plus per-kind transport settings.
// Returns: chat sink options.
type SinkConfig struct {
	Kind     string             `toml:"kind"`
	Slack    SlackSinkConfig    `toml:"slack"`
	Telegram TelegramSinkConfig `toml:"telegram"`
}

// SlackSinkConfig configures the Slack Web API sink.
// Params: API base URL, bot token, posting identity, and timeout.
// Returns: Slack transport settings.
type SlackSinkConfig struct {
	BaseURL    string `toml:"base_url"`
	Token      string `toml:"token"`
	BotName    string `toml:"bot_name"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// TelegramSinkConfig configures the Telegram Bot API sink.
// Params: bot token, optional API base override, and channel-to-chat mapping.
// Returns: Telegram transport settings.
type TelegramSinkConfig struct {
	BotToken string           `toml:"bot_token"`
	APIBase  string           `toml:"api_base"`
	Chats    map[string]int64 `toml:"chats"`
}

// ServiceRules holds the raw rule definitions of one source service.
// Params: ingest token, classification policy, and per-field rule tables.
// Returns: configuration consumed by the rules registry compiler.
type ServiceRules struct {
	Name           string
	Token          string
	ClassifyPolicy string
	Message        FieldRules
	Title          FieldRules
}

// FieldRules holds rules scoped to one alert text field.
// Params: severity-keyed classification needles, exclusion needles,
// enrichment templates, and routes.
// Returns: one field-scoped rule table.
type FieldRules struct {
	Classification map[string][]string   `toml:"classification"`
	Exclude        []string              `toml:"exclude"`
	Enrichments    []ConditionalTemplate `toml:"enrichments"`
	Routes         []ConditionalRoute    `toml:"routes"`
}

// ConditionalTemplate defines one if/then enrichment entry.
// Params: optional condition needle and Go text/template body.
// Returns: enrichment rule definition.
type ConditionalTemplate struct {
	If   string `toml:"if"`
	Then string `toml:"then"`
}

// ConditionalRoute defines one if/then routing entry.
// Params: optional condition needle and destination channel name.
// Returns: routing rule definition.
type ConditionalRoute struct {
	If      string `toml:"if"`
	Channel string `toml:"channel"`
}

// ConfigSource describes a file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds a normalized source from CLI flag values.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var raw rawConfig
	var err error
	if src.File != "" {
		raw, err = loadFile(src.File)
	} else {
		raw, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}

	cfg := normalizeRawConfig(raw)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes one TOML config file.
// Params: file path.
// Returns: raw config or read/decode error.
func loadFile(path string) (rawConfig, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return rawConfig{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(payload, &raw); err != nil {
		return rawConfig{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return raw, nil
}

// loadDir merges lexically ordered TOML fragments from one directory.
// Scalar sections take the last non-zero fragment; service tables merge by
// name with later fragments overriding earlier ones.
// Params: directory path.
// Returns: merged raw config or read/decode error.
func loadDir(dir string) (rawConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return rawConfig{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return rawConfig{}, fmt.Errorf("config dir %q contains no *.toml fragments", dir)
	}
	sort.Strings(names)

	merged := rawConfig{Services: make(map[string]rawServiceRules)}
	for _, name := range names {
		fragment, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return rawConfig{}, err
		}
		mergeFragment(&merged, fragment)
	}
	return merged, nil
}

// mergeFragment overlays one decoded fragment onto the merged snapshot.
// Params: mutable destination and decoded fragment.
// Returns: destination updated in place.
func mergeFragment(dst *rawConfig, fragment rawConfig) {
	if fragment.Service != (ServiceSettings{}) {
		dst.Service = fragment.Service
	}
	if fragment.Log != (LogConfig{}) {
		dst.Log = fragment.Log
	}
	if fragment.Ingest.HTTP != (HTTPIngestConfig{}) {
		dst.Ingest.HTTP = fragment.Ingest.HTTP
	}
	if !isZeroNATS(fragment.Ingest.NATS) {
		dst.Ingest.NATS = fragment.Ingest.NATS
	}
	if !isZeroSink(fragment.Sink) {
		dst.Sink = fragment.Sink
	}
	for name, body := range fragment.Services {
		dst.Services[name] = body
	}
}

// isZeroNATS reports whether a NATS ingest section was omitted.
// Params: decoded NATS section.
// Returns: true when no field was set.
func isZeroNATS(cfg NATSIngestConfig) bool {
	return !cfg.Enabled && len(cfg.URL) == 0 && cfg.Subject == "" && cfg.Stream == "" &&
		cfg.ConsumerName == "" && cfg.DeliverGroup == "" && cfg.AckWaitSec == 0 &&
		cfg.NackDelayMS == 0 && cfg.MaxDeliver == 0 && cfg.MaxAckPending == 0
}

// isZeroSink reports whether a sink section was omitted.
// Params: decoded sink section.
// Returns: true when no field was set.
func isZeroSink(cfg SinkConfig) bool {
	return cfg.Kind == "" && cfg.Slack == (SlackSinkConfig{}) &&
		cfg.Telegram.BotToken == "" && cfg.Telegram.APIBase == "" && len(cfg.Telegram.Chats) == 0
}

// normalizeRawConfig converts the raw TOML model to the runtime config.
// Services are ordered by name for deterministic registry builds.
// Params: decoded raw config.
// Returns: normalized config snapshot.
func normalizeRawConfig(raw rawConfig) Config {
	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		Ingest:  raw.Ingest,
		Sink:    raw.Sink,
	}
	if len(raw.Services) == 0 {
		return cfg
	}

	names := make([]string, 0, len(raw.Services))
	for name := range raw.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	cfg.Services = make([]ServiceRules, 0, len(names))
	for _, name := range names {
		body := raw.Services[name]
		cfg.Services = append(cfg.Services, ServiceRules{
			Name:           name,
			Token:          body.Token,
			ClassifyPolicy: body.ClassifyPolicy,
			Message:        body.Message,
			Title:          body.Title,
		})
	}
	return cfg
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: mutable config pointer.
// Returns: config updated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	applyLogSinkDefaults(&cfg.Log.Console)
	applyLogSinkDefaults(&cfg.Log.File)

	httpCfg := &cfg.Ingest.HTTP
	if httpCfg.Listen == "" {
		httpCfg.Listen = defaultHTTPListen
	}
	if httpCfg.HealthPath == "" {
		httpCfg.HealthPath = defaultHealthPath
	}
	if httpCfg.ReadyPath == "" {
		httpCfg.ReadyPath = defaultReadyPath
	}
	if httpCfg.MetricsPath == "" {
		httpCfg.MetricsPath = defaultMetricsPath
	}
	if httpCfg.MaxBodyBytes <= 0 {
		httpCfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	natsCfg := &cfg.Ingest.NATS
	if len(natsCfg.URL) == 0 {
		natsCfg.URL = []string{defaultNATSURL}
	}
	if natsCfg.Subject == "" {
		natsCfg.Subject = defaultNATSSubject
	}
	if natsCfg.Stream == "" {
		natsCfg.Stream = defaultNATSStream
	}
	if natsCfg.ConsumerName == "" {
		natsCfg.ConsumerName = defaultNATSConsumer
	}
	if natsCfg.DeliverGroup == "" {
		natsCfg.DeliverGroup = defaultNATSGroup
	}
	if natsCfg.AckWaitSec <= 0 {
		natsCfg.AckWaitSec = defaultNATSAckWaitSec
	}
	if natsCfg.NackDelayMS <= 0 {
		natsCfg.NackDelayMS = defaultNATSNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultNATSMaxDeliver
	}
	if natsCfg.MaxAckPending <= 0 {
		natsCfg.MaxAckPending = defaultNATSMaxPending
	}

	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = SinkKindSlack
	}
	cfg.Sink.Kind = strings.ToLower(strings.TrimSpace(cfg.Sink.Kind))
	if cfg.Sink.Slack.BaseURL == "" {
		cfg.Sink.Slack.BaseURL = defaultSlackBaseURL
	}
	if cfg.Sink.Slack.BotName == "" {
		cfg.Sink.Slack.BotName = defaultSlackBotName
	}
	if cfg.Sink.Slack.TimeoutSec <= 0 {
		cfg.Sink.Slack.TimeoutSec = defaultSinkTimeoutSec
	}
}

// applyLogSinkDefaults fills one log sink with level/format defaults.
// Params: mutable sink pointer.
// Returns: sink updated in place.
func applyLogSinkDefaults(sink *LogSinkConfig) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = "line"
	}
}

// validateConfig checks cross-field invariants of one snapshot.
// Params: normalized config.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}

	switch cfg.Sink.Kind {
	case SinkKindSlack:
		if strings.TrimSpace(cfg.Sink.Slack.Token) == "" {
			return errors.New("sink.slack.token is required")
		}
	case SinkKindTelegram:
		if strings.TrimSpace(cfg.Sink.Telegram.BotToken) == "" {
			return errors.New("sink.telegram.bot_token is required")
		}
		if len(cfg.Sink.Telegram.Chats) == 0 {
			return errors.New("sink.telegram.chats must map at least one channel")
		}
	default:
		return fmt.Errorf("unsupported sink.kind %q", cfg.Sink.Kind)
	}

	if len(cfg.Services) == 0 {
		return errors.New("at least one [services.<name>] table is required")
	}
	seen := make(map[string]struct{}, len(cfg.Services))
	for _, service := range cfg.Services {
		key := strings.ToLower(strings.TrimSpace(service.Name))
		if key == "" {
			return errors.New("service name must not be empty")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("service %q is defined twice", service.Name)
		}
		seen[key] = struct{}{}
		if len(service.Message.Routes) == 0 && len(service.Title.Routes) == 0 {
			return fmt.Errorf("routes not defined for service %q", service.Name)
		}
	}
	return nil
}
