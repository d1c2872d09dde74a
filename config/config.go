package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"curator/logger"
	"curator/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DefaultPaths struct {
	ConfigDir      string
	LogPathApp     string
	LogPathCapture string
	CACertPath     string
	CAKeyPath      string
	DBPath         string
	LogLevel       string
}

type Configuration struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Server struct {
		Port    string `mapstructure:"port"`
		LogPath string `mapstructure:"log_path"`
	} `mapstructure:"server"`
	Capture struct {
		Port            string        `mapstructure:"port"`
		CACertPath      string        `mapstructure:"ca_cert_path"`
		CAKeyPath       string        `mapstructure:"ca_key_path"`
		LogPath         string        `mapstructure:"log_path"`
		TestNameHeader  string        `mapstructure:"test_name_header"`
		TestFileHeader  string        `mapstructure:"test_file_header"`
		IncludePrefixes []string      `mapstructure:"include_prefixes"`
		FlushInterval   time.Duration `mapstructure:"flush_interval"`
		BatchSize       int           `mapstructure:"batch_size"`
	} `mapstructure:"capture"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Live struct {
		BaseURL           string            `mapstructure:"base_url"`
		Timeout           time.Duration     `mapstructure:"timeout"`
		SkipTLSVerify     bool              `mapstructure:"skip_tls_verify"`
		Headers           map[string]string `mapstructure:"headers"`
		Concurrency       int               `mapstructure:"concurrency"`
		RequestsPerSecond float64           `mapstructure:"requests_per_second"`
		Seed              uint64            `mapstructure:"seed"`
	} `mapstructure:"live"`
	Schema struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"schema"`
	Curation struct {
		Deduplication models.DeduplicationConfig `mapstructure:"deduplication"`
		Validation    models.ValidationConfig    `mapstructure:"validation"`
	} `mapstructure:"curation"`
}

var AppConfig Configuration

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// ExpandTilde replaces a leading ~ with the user's home directory.
func ExpandTilde(path string) (string, error) {
	return expandTilde(path)
}

func GetDefaultConfigPaths() DefaultPaths {
	var paths DefaultPaths
	userConfigDirBase, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get user config dir: %v. Using current directory.\n", err)
		userConfigDirBase = "."
	}

	paths.ConfigDir = filepath.Join(userConfigDirBase, "curator")
	logDir := filepath.Join(paths.ConfigDir, "logs")

	paths.LogPathApp = filepath.Join(logDir, "app.log")
	paths.LogPathCapture = filepath.Join(logDir, "capture.log")
	paths.CACertPath = filepath.Join(paths.ConfigDir, "curator-ca.crt")
	paths.CAKeyPath = filepath.Join(paths.ConfigDir, "curator-ca.key")
	paths.DBPath = filepath.Join(paths.ConfigDir, "captures.db")
	paths.LogLevel = "INFO"
	return paths
}

// setDefaults registers every recognized key so env overrides and Unmarshal see them.
func setDefaults(v *viper.Viper, defaults DefaultPaths) {
	v.SetDefault("database.path", defaults.DBPath)
	v.SetDefault("server.port", "8778")
	v.SetDefault("server.log_path", defaults.LogPathApp)
	v.SetDefault("capture.port", "8777")
	v.SetDefault("capture.ca_cert_path", defaults.CACertPath)
	v.SetDefault("capture.ca_key_path", defaults.CAKeyPath)
	v.SetDefault("capture.log_path", defaults.LogPathCapture)
	v.SetDefault("capture.test_name_header", "X-Test-Name")
	v.SetDefault("capture.test_file_header", "X-Test-File")
	v.SetDefault("capture.include_prefixes", []string{"/api/"})
	v.SetDefault("capture.flush_interval", 5*time.Second)
	v.SetDefault("capture.batch_size", 50)
	v.SetDefault("logging.level", defaults.LogLevel)
	v.SetDefault("live.base_url", "")
	v.SetDefault("live.timeout", 30*time.Second)
	v.SetDefault("live.skip_tls_verify", false)
	v.SetDefault("live.headers", map[string]string{})
	v.SetDefault("live.concurrency", 1)
	v.SetDefault("live.requests_per_second", 0.0)
	v.SetDefault("live.seed", 0)
	v.SetDefault("schema.path", "")

	dedup := models.DefaultDeduplicationConfig()
	v.SetDefault("curation.deduplication.enabled", dedup.Enabled)
	v.SetDefault("curation.deduplication.maxTestsPerEndpoint", dedup.MaxTestsPerEndpoint)
	v.SetDefault("curation.deduplication.ignoreFields", dedup.IgnoreFields)
	v.SetDefault("curation.deduplication.significantFields", dedup.SignificantFields)
	v.SetDefault("curation.deduplication.detectEdgeCases", dedup.DetectEdgeCases)
	v.SetDefault("curation.deduplication.preserveTaggedTests", dedup.PreserveTaggedTests)
	v.SetDefault("curation.deduplication.preserveTags", dedup.PreserveTags)

	val := models.DefaultValidationConfig()
	v.SetDefault("curation.validation.enabled", val.Enabled)
	v.SetDefault("curation.validation.validateBeforeGeneration", val.ValidateBeforeGeneration)
	v.SetDefault("curation.validation.onStaleData", string(val.OnStaleData))
	v.SetDefault("curation.validation.staleIfChanged", val.StaleIfChanged)
	v.SetDefault("curation.validation.allowChanges", val.AllowChanges)
	v.SetDefault("curation.validation.collect422Errors", val.Collect422Errors)
	v.SetDefault("curation.validation.skipMessagePatterns", val.SkipMessagePatterns)
	v.SetDefault("curation.validation.collect400Errors", val.Collect400Errors)
	v.SetDefault("curation.validation.skip400MessagePatterns", val.Skip400MessagePatterns)
	v.SetDefault("curation.validation.duplicateMessagePatterns", val.DuplicateMessagePatterns)
	// 0 means "inherit live.concurrency"; Load resolves it.
	v.SetDefault("curation.validation.concurrency", 0)
}

// Load reads configuration into a fresh Configuration without touching the
// global loggers. Init wraps it for the CLI.
func Load(cfgFile string) (Configuration, string, error) {
	var cfg Configuration
	v := viper.New()
	defaults := GetDefaultConfigPaths()
	setDefaults(v, defaults)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	if cfgFile != "" {
		expandedCfgFile, err := expandTilde(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in config file path '%s': %v. Trying original path.\n", cfgFile, err)
			expandedCfgFile = cfgFile
		}
		v.SetConfigFile(expandedCfgFile)
		v.SetConfigType("yaml")
	} else {
		v.AddConfigPath(defaults.ConfigDir)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configUsedMsg := "Using default/environment configuration."
	if readErr := v.ReadInConfig(); readErr == nil {
		configUsedMsg = fmt.Sprintf("Using config file: %s", v.ConfigFileUsed())
	} else if _, ok := readErr.(viper.ConfigFileNotFoundError); ok {
		if cfgFile != "" {
			return cfg, "", fmt.Errorf("config file %s not found: %w", cfgFile, readErr)
		}
	} else {
		return cfg, "", fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), readErr)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, "", fmt.Errorf("unable to decode config into struct: %w", err)
	}

	var err error
	for _, p := range []*string{&cfg.Database.Path, &cfg.Capture.CACertPath, &cfg.Capture.CAKeyPath, &cfg.Schema.Path} {
		if *p, err = expandTilde(*p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in '%s': %v.\n", *p, err)
		}
	}
	if cfg.Curation.Validation.Concurrency <= 0 {
		cfg.Curation.Validation.Concurrency = cfg.Live.Concurrency
	}
	if cfg.Curation.Validation.RequestsPerSecond == 0 {
		cfg.Curation.Validation.RequestsPerSecond = cfg.Live.RequestsPerSecond
	}
	return cfg, configUsedMsg, nil
}

func Init(cfgFile string, flagAppLogPath, flagCaptureLogPath, flagLogLevel string) error {
	cfg, configUsedMsg, err := Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: %v\n", err)
		return err
	}
	AppConfig = cfg

	if flagAppLogPath != "" {
		if expanded, err := expandTilde(flagAppLogPath); err == nil {
			AppConfig.Server.LogPath = expanded
		} else {
			AppConfig.Server.LogPath = flagAppLogPath
		}
	}
	if flagCaptureLogPath != "" {
		if expanded, err := expandTilde(flagCaptureLogPath); err == nil {
			AppConfig.Capture.LogPath = expanded
		} else {
			AppConfig.Capture.LogPath = flagCaptureLogPath
		}
	}
	if flagLogLevel != "" {
		AppConfig.Logging.Level = strings.ToUpper(flagLogLevel)
	}

	if err := logger.InitGlobalLoggers(AppConfig.Server.LogPath, AppConfig.Capture.LogPath, AppConfig.Logging.Level); err != nil {
		return fmt.Errorf("failed to initialize global loggers with final config: %w", err)
	}

	logger.Info(configUsedMsg)
	if flagAppLogPath != "" || flagCaptureLogPath != "" || flagLogLevel != "" {
		logger.Info("Log path/level flags may have overridden config file/defaults.")
	}
	if AppConfig.Live.BaseURL == "" {
		logger.Info("live.base_url is not configured. Staleness validation needs --base-url or CURATOR_LIVE_BASE_URL.")
	}
	if AppConfig.Live.SkipTLSVerify {
		logger.Warn("Live calls: TLS certificate verification is DISABLED.")
	}
	logger.Debug("Final AppConfig Initialized: %+v", AppConfig)
	return nil
}
