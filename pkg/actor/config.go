package actor

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration of an actor. On the platform
// every field is injected through ACTOR_* environment variables; locally
// the zero value plus defaults gives a working offline setup.
type Config struct {
	ActorID string
	RunID   string

	APIBaseURL string
	APIToken   string

	// IsAtHome marks the run as platform-managed. The platform sets
	// ACTOR_IS_AT_HOME; without it the mode is derived from RunID and
	// APIBaseURL being present.
	IsAtHome bool

	DefaultKeyValueStoreID string
	DefaultDatasetID       string
	InputKey               string

	// LocalStorageDir is where local-mode state lives. The special
	// value ":memory:" keeps everything in process memory.
	LocalStorageDir string

	PersistStateInterval time.Duration
	SystemInfoInterval   time.Duration

	// PlatformPollInterval controls how often the run status is polled
	// for externally requested aborts. Only used in platform mode.
	PlatformPollInterval time.Duration

	// MaxRebootCount guards against reboot loops.
	MaxRebootCount int

	LogLevel string
}

// Defaults used when the environment does not say otherwise
const (
	DefaultInputKey             = "INPUT"
	DefaultLocalStorageDir      = "./storage"
	DefaultPersistStateInterval = 60 * time.Second
	DefaultSystemInfoInterval   = 60 * time.Second
	DefaultPlatformPollInterval = 5 * time.Second
	DefaultMaxRebootCount       = 5
)

// ConfigFromEnv reads the actor configuration from ACTOR_* environment
// variables, applying defaults for anything unset.
func ConfigFromEnv() Config {
	v := viper.New()
	v.SetEnvPrefix("ACTOR")
	v.AutomaticEnv()

	v.SetDefault("INPUT_KEY", DefaultInputKey)
	v.SetDefault("LOCAL_STORAGE_DIR", DefaultLocalStorageDir)
	v.SetDefault("PERSIST_STATE_INTERVAL", DefaultPersistStateInterval)
	v.SetDefault("SYSTEM_INFO_INTERVAL", DefaultSystemInfoInterval)
	v.SetDefault("PLATFORM_POLL_INTERVAL", DefaultPlatformPollInterval)
	v.SetDefault("MAX_REBOOT_COUNT", DefaultMaxRebootCount)
	v.SetDefault("LOG_LEVEL", "INFO")

	return Config{
		ActorID:                v.GetString("ID"),
		RunID:                  v.GetString("RUN_ID"),
		APIBaseURL:             v.GetString("API_BASE_URL"),
		APIToken:               v.GetString("API_TOKEN"),
		IsAtHome:               v.GetBool("IS_AT_HOME"),
		DefaultKeyValueStoreID: v.GetString("DEFAULT_KEY_VALUE_STORE_ID"),
		DefaultDatasetID:       v.GetString("DEFAULT_DATASET_ID"),
		InputKey:               v.GetString("INPUT_KEY"),
		LocalStorageDir:        v.GetString("LOCAL_STORAGE_DIR"),
		PersistStateInterval:   v.GetDuration("PERSIST_STATE_INTERVAL"),
		SystemInfoInterval:     v.GetDuration("SYSTEM_INFO_INTERVAL"),
		PlatformPollInterval:   v.GetDuration("PLATFORM_POLL_INTERVAL"),
		MaxRebootCount:         v.GetInt("MAX_REBOOT_COUNT"),
		LogLevel:               v.GetString("LOG_LEVEL"),
	}
}

// isAtHome reports whether the configuration describes a platform-managed
// run rather than a local development session.
func (c Config) isAtHome() bool {
	return c.IsAtHome || (c.RunID != "" && c.APIBaseURL != "")
}
