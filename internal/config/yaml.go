package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "CRAB_CONFIG_FILE"
	crabstackDirName        = ".crabstack"
	defaultConfigFileName   = "voice.yaml"
	alternateConfigFileName = "voice.yml"
)

type fileConfig struct {
	DiscordBotToken string                `yaml:"discord_bot_token"`
	HTTPAddr        string                `yaml:"http_addr"`
	DBDriver        string                `yaml:"db_driver"`
	DBDSN           string                `yaml:"db_dsn"`
	Assistants      []fileAssistantConfig `yaml:"assistants"`
	PingInterval    string                `yaml:"ping_interval"`
	MediaCacheDir   string                `yaml:"media_cache_dir"`
	MediaBaseURL    string                `yaml:"media_base_url"`
	DefaultThumb    string                `yaml:"default_thumb"`
	SupportChat     string                `yaml:"support_chat"`
	DefaultLang     string                `yaml:"default_lang"`
	LangDir         string                `yaml:"lang_dir"`
	WebhookURLs     []string              `yaml:"webhook_urls"`
	NotifyQueueSize *int                  `yaml:"notify_queue_size"`
}

type fileAssistantConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

// resolveConfigFilePath checks CRAB_CONFIG_FILE, then ./.crabstack, then
// ~/.crabstack. A missing file is not an error.
func resolveConfigFilePath() (string, bool, error) {
	if explicit := envString(EnvConfigFile); explicit != "" {
		resolvedPath, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve %s: %w", EnvConfigFile, err)
		}
		info, err := os.Stat(resolvedPath)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolvedPath, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolvedPath)
		}
		return resolvedPath, true, nil
	}

	candidates := []string{
		filepath.Join(crabstackDirName, defaultConfigFileName),
		filepath.Join(crabstackDirName, alternateConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, crabstackDirName, defaultConfigFileName),
			filepath.Join(homeDir, crabstackDirName, alternateConfigFileName),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		return os.UserHomeDir()
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~/")), nil
	}
	return trimmed, nil
}
