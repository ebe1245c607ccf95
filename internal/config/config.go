package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"surgiplan/internal/detect"
	"surgiplan/internal/textnorm"
	"surgiplan/pkg/logger"
)

const (
	FileName     = "surgiplan.yml"
	TOMLFileName = "surgiplan.toml"
)

// Config models surgiplan.yml (or surgiplan.toml).
type Config struct {
	Detection Detection     `yaml:"detection" toml:"detection"`
	Server    Server        `yaml:"server" toml:"server"`
	Assistant Assistant     `yaml:"assistant" toml:"assistant"`
	Logging   logger.Config `yaml:"logging" toml:"logging"`
	Storage   Storage       `yaml:"storage" toml:"storage"`
}

type Detection struct {
	OverloadThreshold  int      `yaml:"overload_threshold" toml:"overload_threshold"`
	OverloadComparison string   `yaml:"overload_comparison" toml:"overload_comparison"`
	UrgentDays         []string `yaml:"urgent_days" toml:"urgent_days"`
	Timezone           string   `yaml:"timezone" toml:"timezone"`
	Scoring            Scoring  `yaml:"scoring" toml:"scoring"`
}

type Scoring struct {
	UrgentWeight        int      `yaml:"urgent_weight" toml:"urgent_weight"`
	SpecialtyWeight     int      `yaml:"specialty_weight" toml:"specialty_weight"`
	StratumWeight       int      `yaml:"stratum_weight" toml:"stratum_weight"`
	WaitWeight          int      `yaml:"wait_weight" toml:"wait_weight"`
	PrioritySpecialties []string `yaml:"priority_specialties" toml:"priority_specialties"`
	LowStrata           []int    `yaml:"low_strata" toml:"low_strata"`
	LongWaitDays        int      `yaml:"long_wait_days" toml:"long_wait_days"`
}

type Server struct {
	Addr               string   `yaml:"addr" toml:"addr"`
	BasePath           string   `yaml:"base_path" toml:"base_path"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	JWTSecretEnv       string   `yaml:"jwt_secret_env" toml:"jwt_secret_env"`
}

type Assistant struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	AssistantID    string `yaml:"assistant_id" toml:"assistant_id"`
	APIKeyEnv      string `yaml:"api_key_env" toml:"api_key_env"`
	BaseURL        string `yaml:"base_url" toml:"base_url"`
	PollInterval   string `yaml:"poll_interval" toml:"poll_interval"`
	MaxWait        string `yaml:"max_wait" toml:"max_wait"`
	SessionTTL     string `yaml:"session_ttl" toml:"session_ttl"`
	IncludeSummary bool   `yaml:"include_summary" toml:"include_summary"`
}

type Storage struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Path returns the YAML config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads surgiplan.yml, falling back to surgiplan.toml.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config %s not found; create one with surgiplan config init", Path(workspace))
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if no config file exists.
func LoadOptional(workspace string) (*Config, error) {
	for _, p := range []string{Path(workspace), filepath.Join(filepath.Dir(Path(workspace)), TOMLFileName)} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return FromFile(p)
	}
	return nil, nil
}

// FromFile picks the decoder from the file extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// YAML renders the effective config.
func (c *Config) YAML() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Validate fails with *detect.ConfigurationError before any record is scanned.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return &detect.ConfigurationError{Field: "server.base_path", Reason: "must start with /"}
	}
	durations := [][2]string{
		{"assistant.poll_interval", c.Assistant.PollInterval},
		{"assistant.max_wait", c.Assistant.MaxWait},
		{"assistant.session_ttl", c.Assistant.SessionTTL},
	}
	for _, kv := range durations {
		d, err := time.ParseDuration(kv[1])
		if err != nil || d <= 0 {
			return &detect.ConfigurationError{Field: kv[0], Reason: fmt.Sprintf("must be a positive duration, got %q", kv[1])}
		}
	}
	if c.Assistant.Enabled && strings.TrimSpace(c.Assistant.AssistantID) == "" {
		return &detect.ConfigurationError{Field: "assistant.assistant_id", Reason: "required when the assistant is enabled"}
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return &detect.ConfigurationError{Field: "logging.level", Reason: err.Error()}
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return &detect.ConfigurationError{Field: "logging.format", Reason: fmt.Sprintf("unsupported format %q", c.Logging.Format)}
	}
	return nil
}

// Policy converts the detection section into a validated detect.Policy.
func (c *Config) Policy() (detect.Policy, error) {
	d := c.Detection
	days := make([]time.Weekday, 0, len(d.UrgentDays))
	for _, name := range d.UrgentDays {
		wd, ok := ParseWeekday(name)
		if !ok {
			return detect.Policy{}, &detect.ConfigurationError{Field: "detection.urgent_days", Reason: fmt.Sprintf("unknown weekday %q", name)}
		}
		days = append(days, wd)
	}
	if _, err := c.Location(); err != nil {
		return detect.Policy{}, err
	}
	p := detect.Policy{
		OverloadThreshold:  d.OverloadThreshold,
		OverloadComparison: detect.Comparison(d.OverloadComparison),
		UrgentDays:         days,
		Scoring: detect.Scoring{
			UrgentWeight:        d.Scoring.UrgentWeight,
			SpecialtyWeight:     d.Scoring.SpecialtyWeight,
			StratumWeight:       d.Scoring.StratumWeight,
			WaitWeight:          d.Scoring.WaitWeight,
			PrioritySpecialties: d.Scoring.PrioritySpecialties,
			LowStrata:           d.Scoring.LowStrata,
			LongWaitDays:        d.Scoring.LongWaitDays,
		},
	}
	if err := p.Validate(); err != nil {
		var ce *detect.ConfigurationError
		if errors.As(err, &ce) {
			return detect.Policy{}, &detect.ConfigurationError{Field: "detection." + ce.Field, Reason: ce.Reason}
		}
		return detect.Policy{}, err
	}
	return p, nil
}

// Location is the timezone schedule dates and times are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Detection.Timezone
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &detect.ConfigurationError{Field: "detection.timezone", Reason: err.Error()}
	}
	return loc, nil
}

func (a Assistant) PollEvery() time.Duration  { return mustDuration(a.PollInterval) }
func (a Assistant) MaxWaitFor() time.Duration { return mustDuration(a.MaxWait) }
func (a Assistant) TTL() time.Duration        { return mustDuration(a.SessionTTL) }

// mustDuration is only used on validated configs.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q", s))
	}
	return d
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday, "domingo": time.Sunday,
	"monday": time.Monday, "mon": time.Monday, "lunes": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "martes": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "miercoles": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "jueves": time.Thursday,
	"friday": time.Friday, "fri": time.Friday, "viernes": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday, "sabado": time.Saturday,
}

// ParseWeekday accepts English and Spanish day names, with or without accents.
func ParseWeekday(name string) (time.Weekday, bool) {
	wd, ok := weekdays[textnorm.Fold(name)]
	return wd, ok
}

const defaultTemplate = `detection:
  # a room is overloaded when its case count is greater than (gt) or
  # greater-or-equal to (gte) the threshold
  overload_threshold: 3
  overload_comparison: gt
  # days with dedicated urgent slots; urgent cases on other days are flagged
  urgent_days: [saturday, sunday]
  timezone: UTC
  scoring:
    urgent_weight: 3
    specialty_weight: 2
    stratum_weight: 1
    wait_weight: 1
    priority_specialties: ["Oncología", "Cardiología"]
    low_strata: [1, 2]
    long_wait_days: 10

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  cors_allowed_origins: []
  jwt_secret_env: SURGIPLAN_JWT_SECRET

assistant:
  enabled: false
  assistant_id: ""
  api_key_env: OPENAI_API_KEY
  base_url: ""
  poll_interval: 1s
  max_wait: 2m
  session_ttl: 1h
  include_summary: true

logging:
  level: info
  format: console

storage:
  enabled: true
`
