package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPAddr        = ":8090"
	defaultDBDriver        = "sqlite"
	defaultDBDSN           = "crab-voice.db"
	defaultPingInterval    = 10 * time.Second
	defaultMediaCacheDir   = ".crabstack/media"
	defaultMediaBaseURL    = "https://www.youtube.com/watch?v="
	defaultThumbnail       = "https://i.ytimg.com/vi/default/hqdefault.jpg"
	defaultLang            = "en"
	defaultNotifyQueueSize = 64
)

const (
	EnvDiscordBotToken = "DISCORD_BOT_TOKEN"
	EnvHTTPAddr        = "CRAB_VOICE_HTTP_ADDR"
	EnvDBDriver        = "CRAB_VOICE_DB_DRIVER"
	EnvDBDSN           = "CRAB_VOICE_DB_DSN"
	EnvAssistants      = "CRAB_VOICE_ASSISTANTS"
	EnvPingInterval    = "CRAB_VOICE_PING_INTERVAL"
	EnvMediaCacheDir   = "CRAB_VOICE_MEDIA_CACHE_DIR"
	EnvMediaBaseURL    = "CRAB_VOICE_MEDIA_BASE_URL"
	EnvDefaultThumb    = "CRAB_VOICE_DEFAULT_THUMB"
	EnvSupportChat     = "CRAB_VOICE_SUPPORT_CHAT"
	EnvDefaultLang     = "CRAB_VOICE_DEFAULT_LANG"
	EnvLangDir         = "CRAB_VOICE_LANG_DIR"
	EnvWebhookURLs     = "CRAB_VOICE_WEBHOOK_URLS"
	EnvNotifyQueueSize = "CRAB_VOICE_NOTIFY_QUEUE_SIZE"
)

// Assistant is one voice node the pool connects to.
type Assistant struct {
	Name string
	URL  string
}

type Config struct {
	DiscordBotToken  string
	HTTPAddr         string
	DBDriver         string
	DBDSN            string
	Assistants       []Assistant
	PingInterval     time.Duration
	MediaCacheDir    string
	MediaBaseURL     string
	DefaultThumbnail string
	SupportChat      string
	DefaultLang      string
	LangDir          string
	WebhookURLs      []string
	NotifyQueueSize  int
}

// FromYAMLAndEnv layers the optional config file and then the environment
// over the defaults.
func FromYAMLAndEnv() (Config, error) {
	cfg := defaultConfig()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}
	if err := applyYAML(&cfg, fileCfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:         defaultHTTPAddr,
		DBDriver:         defaultDBDriver,
		DBDSN:            defaultDBDSN,
		PingInterval:     defaultPingInterval,
		MediaCacheDir:    defaultMediaCacheDir,
		MediaBaseURL:     defaultMediaBaseURL,
		DefaultThumbnail: defaultThumbnail,
		DefaultLang:      defaultLang,
		NotifyQueueSize:  defaultNotifyQueueSize,
	}
}

func applyYAML(cfg *Config, source fileConfig) error {
	if value := strings.TrimSpace(source.DiscordBotToken); value != "" {
		cfg.DiscordBotToken = value
	}
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if len(source.Assistants) > 0 {
		assistants := make([]Assistant, 0, len(source.Assistants))
		for _, a := range source.Assistants {
			assistants = append(assistants, Assistant{
				Name: strings.TrimSpace(a.Name),
				URL:  strings.TrimSpace(a.URL),
			})
		}
		cfg.Assistants = assistants
	}

	pingInterval, err := parseOptionalDuration(source.PingInterval, cfg.PingInterval, "ping_interval")
	if err != nil {
		return err
	}
	cfg.PingInterval = pingInterval

	if value := strings.TrimSpace(source.MediaCacheDir); value != "" {
		expanded, err := expandPath(value)
		if err != nil {
			return fmt.Errorf("resolve media_cache_dir: %w", err)
		}
		cfg.MediaCacheDir = expanded
	}
	if value := strings.TrimSpace(source.MediaBaseURL); value != "" {
		cfg.MediaBaseURL = value
	}
	if value := strings.TrimSpace(source.DefaultThumb); value != "" {
		cfg.DefaultThumbnail = value
	}
	if value := strings.TrimSpace(source.SupportChat); value != "" {
		cfg.SupportChat = value
	}
	if value := strings.TrimSpace(source.DefaultLang); value != "" {
		cfg.DefaultLang = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.LangDir); value != "" {
		expanded, err := expandPath(value)
		if err != nil {
			return fmt.Errorf("resolve lang_dir: %w", err)
		}
		cfg.LangDir = expanded
	}
	if urls := trimAll(source.WebhookURLs); len(urls) > 0 {
		cfg.WebhookURLs = urls
	}
	if source.NotifyQueueSize != nil {
		cfg.NotifyQueueSize = *source.NotifyQueueSize
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if value := envString(EnvDiscordBotToken); value != "" {
		cfg.DiscordBotToken = value
	}
	if value := envString(EnvHTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := envString(EnvDBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := envString(EnvDBDSN); value != "" {
		cfg.DBDSN = value
	}
	if value := envString(EnvAssistants); value != "" {
		assistants, err := ParseAssistants(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAssistants, err)
		}
		cfg.Assistants = assistants
	}
	if value := envString(EnvPingInterval); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPingInterval, err)
		}
		cfg.PingInterval = parsed
	}
	if value := envString(EnvMediaCacheDir); value != "" {
		expanded, err := expandPath(value)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", EnvMediaCacheDir, err)
		}
		cfg.MediaCacheDir = expanded
	}
	if value := envString(EnvMediaBaseURL); value != "" {
		cfg.MediaBaseURL = value
	}
	if value := envString(EnvDefaultThumb); value != "" {
		cfg.DefaultThumbnail = value
	}
	if value := envString(EnvSupportChat); value != "" {
		cfg.SupportChat = value
	}
	if value := envString(EnvDefaultLang); value != "" {
		cfg.DefaultLang = strings.ToLower(value)
	}
	if value := envString(EnvLangDir); value != "" {
		expanded, err := expandPath(value)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", EnvLangDir, err)
		}
		cfg.LangDir = expanded
	}
	if value := envString(EnvWebhookURLs); value != "" {
		cfg.WebhookURLs = trimAll(strings.Split(value, ","))
	}
	if value := envString(EnvNotifyQueueSize); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvNotifyQueueSize, err)
		}
		cfg.NotifyQueueSize = parsed
	}
	return nil
}

// ParseAssistants reads a comma separated list of name=url pairs.
func ParseAssistants(raw string) ([]Assistant, error) {
	var out []Assistant
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rawURL, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		rawURL = strings.TrimSpace(rawURL)
		if !ok || name == "" || rawURL == "" {
			return nil, fmt.Errorf("assistant entry %q must be name=url", part)
		}
		out = append(out, Assistant{Name: name, URL: rawURL})
	}
	return out, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DiscordBotToken) == "" {
		return fmt.Errorf("%s is required", EnvDiscordBotToken)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("%s must not be empty", EnvDBDSN)
		}
	case "memory":
	default:
		return fmt.Errorf("%s must be sqlite, postgres or memory", EnvDBDriver)
	}
	if len(c.Assistants) == 0 {
		return fmt.Errorf("%s must list at least one assistant", EnvAssistants)
	}
	seen := make(map[string]struct{}, len(c.Assistants))
	for _, a := range c.Assistants {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("assistant name must not be empty")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("assistant %q is listed twice", a.Name)
		}
		seen[a.Name] = struct{}{}
		if err := validateURL(a.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("assistant %q: %w", a.Name, err)
		}
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%s must be > 0", EnvPingInterval)
	}
	if strings.TrimSpace(c.MediaCacheDir) == "" {
		return fmt.Errorf("%s must not be empty", EnvMediaCacheDir)
	}
	if strings.TrimSpace(c.MediaBaseURL) == "" {
		return fmt.Errorf("%s must not be empty", EnvMediaBaseURL)
	}
	if strings.TrimSpace(c.DefaultLang) == "" {
		return fmt.Errorf("%s must not be empty", EnvDefaultLang)
	}
	for _, webhookURL := range c.WebhookURLs {
		if err := validateURL(webhookURL, "http", "https"); err != nil {
			return fmt.Errorf("%s: %w", EnvWebhookURLs, err)
		}
	}
	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", EnvNotifyQueueSize)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("url %q is invalid: %w", raw, err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("url %q must include scheme and host", raw)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("url %q must use %s", raw, strings.Join(schemes, " or "))
}

func parseOptionalDuration(raw string, fallback time.Duration, field string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return parsed, nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func trimAll(values []string) []string {
	var out []string
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
