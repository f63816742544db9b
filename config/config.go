package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	FailurePolicyPlaceholder = "placeholder"
	FailurePolicyEmpty       = "empty"
	FailurePolicyReject      = "reject"
)

type Config struct {
	config *viper.Viper
}

func Load() (*Config, error) {

	env := os.Getenv(keyEnv)
	if len(env) == 0 {
		env = envLocal
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	setDefaults(viperConfig)
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.storage_path", ".jurisearch")
	v.SetDefault("database.kvdb_path", "documents.db")
	v.SetDefault("database.index_path", "metadata.bleve")

	v.SetDefault("documents.max_judgment_bytes", 20*1024*1024)
	v.SetDefault("documents.max_order_bytes", 5*1024*1024)
	v.SetDefault("documents.page_size", 7)

	v.SetDefault("extraction.min_direct_chars", 100)
	v.SetDefault("extraction.dpi", 350)
	v.SetDefault("extraction.ocr_workers", 2)
	v.SetDefault("extraction.timeout", "10m")
	v.SetDefault("extraction.max_pages", 500)
	v.SetDefault("extraction.failure_policy", FailurePolicyPlaceholder)
	v.SetDefault("extraction.async", false)
	v.SetDefault("extraction.queue_workers", 2)

	v.SetDefault("ocr.languages", []string{"fra", "eng"})
	v.SetDefault("ocr.tessdata_prefix", "")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")

	v.SetDefault("search.include_placeholders", false)
}

func (c *Config) validate() error {
	switch c.GetFailurePolicy() {
	case FailurePolicyPlaceholder, FailurePolicyEmpty, FailurePolicyReject:
	default:
		return fmt.Errorf("unknown extraction failure policy %q", c.GetFailurePolicy())
	}
	if c.GetOCRWorkers() < 1 {
		return fmt.Errorf("extraction.ocr_workers must be at least 1")
	}
	if c.GetDPI() < 1 {
		return fmt.Errorf("extraction.dpi must be positive")
	}
	return nil
}

func (c *Config) GetPort() string {
	port := c.config.GetString("PORT")
	if len(port) == 0 {
		port = c.config.GetString("server.port")
	}

	return port
}

func (c *Config) GetLogLevel() string {
	level := c.config.GetString("LOG_LEVEL")
	if len(level) == 0 {
		level = c.config.GetString("log.level")
	}

	return level
}

func (c *Config) GetKVDBPath() string {
	kvdbPath := c.config.GetString("KVDB_PATH")
	if len(kvdbPath) == 0 {
		kvdbPath = c.config.GetString("database.kvdb_path")
	}

	return kvdbPath
}

func (c *Config) GetIndexPath() string {
	indexPath := c.config.GetString("INDEX_PATH")
	if len(indexPath) == 0 {
		indexPath = c.config.GetString("database.index_path")
	}

	return indexPath
}

func (c *Config) GetStoragePath() string {
	storagePath := c.config.GetString("STORAGE_PATH")
	if len(storagePath) == 0 {
		storagePath = c.config.GetString("database.storage_path")
	}

	return storagePath
}

func (c *Config) GetMaxJudgmentBytes() int64 {
	return c.config.GetInt64("documents.max_judgment_bytes")
}

func (c *Config) GetMaxOrderBytes() int64 {
	return c.config.GetInt64("documents.max_order_bytes")
}

func (c *Config) GetPageSize() int {
	return c.config.GetInt("documents.page_size")
}

func (c *Config) GetMinDirectChars() int {
	return c.config.GetInt("extraction.min_direct_chars")
}

func (c *Config) GetDPI() int {
	return c.config.GetInt("extraction.dpi")
}

func (c *Config) GetOCRWorkers() int {
	return c.config.GetInt("extraction.ocr_workers")
}

func (c *Config) GetExtractionTimeout() time.Duration {
	timeout := c.config.GetString("EXTRACTION_TIMEOUT")
	if len(timeout) == 0 {
		return c.config.GetDuration("extraction.timeout")
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		slog.Warn("invalid EXTRACTION_TIMEOUT, using config file value", "value", timeout, "err", err.Error())
		return c.config.GetDuration("extraction.timeout")
	}

	return d
}

func (c *Config) GetMaxPages() int {
	return c.config.GetInt("extraction.max_pages")
}

func (c *Config) GetFailurePolicy() string {
	policy := c.config.GetString("EXTRACTION_FAILURE_POLICY")
	if len(policy) == 0 {
		policy = c.config.GetString("extraction.failure_policy")
	}

	return strings.ToLower(policy)
}

func (c *Config) IsExtractionAsync() bool {
	return c.config.GetBool("extraction.async")
}

func (c *Config) GetQueueWorkers() int {
	return max(1, c.config.GetInt("extraction.queue_workers"))
}

func (c *Config) GetOCRLanguages() []string {
	return c.config.GetStringSlice("ocr.languages")
}

// GetTessdataPrefix is the tesseract language data directory; empty means the
// library default.
func (c *Config) GetTessdataPrefix() string {
	prefix := c.config.GetString("TESSDATA_PREFIX")
	if len(prefix) == 0 {
		prefix = c.config.GetString("ocr.tessdata_prefix")
	}

	return prefix
}

func (c *Config) GetPdftoppmPath() string {
	path := c.config.GetString("PDFTOPPM_PATH")
	if len(path) == 0 {
		path = c.config.GetString("ocr.pdftoppm_path")
	}

	return path
}

func (c *Config) IncludePlaceholdersInSearch() bool {
	return c.config.GetBool("search.include_placeholders")
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}
