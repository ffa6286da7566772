// This file defines the configuration structure for the application.
package config

import (
	// use Viper for loading the config.yml file.
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Storage struct {
		// Path is the directory where uploaded audio recordings are kept
		// until the worker has consumed them.
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`
	DropFolder struct {
		// Path, when non-empty, is watched for new audio files which are
		// auto-enqueued as transcription jobs.
		Path   string `mapstructure:"path"`
		UserID int64  `mapstructure:"user_id"`
	} `mapstructure:"drop_folder"`
	Worker struct {
		Command string   `mapstructure:"command"`
		Args    []string `mapstructure:"args"`
		// ReadyTimeoutSec bounds how long startup waits for the READY line.
		ReadyTimeoutSec   int `mapstructure:"ready_timeout_sec"`
		RequestTimeoutSec int `mapstructure:"request_timeout_sec"`
		GraceTimeoutSec   int `mapstructure:"grace_timeout_sec"`
		MaxRestarts       int `mapstructure:"max_restarts"`
		BackoffBaseMs     int `mapstructure:"backoff_base_ms"`
		BackoffMaxMs      int `mapstructure:"backoff_max_ms"`
	} `mapstructure:"worker"`
	Transcribe struct {
		PollIntervalSec int `mapstructure:"poll_interval_sec"`
		// PollBudgetSec is the wall-clock cap after which an unresponsive
		// job is reported as timed out.
		PollBudgetSec int `mapstructure:"poll_budget_sec"`
	} `mapstructure:"transcribe"`
	Push struct {
		PingIntervalSec  int `mapstructure:"ping_interval_sec"`
		SweepIntervalSec int `mapstructure:"sweep_interval_sec"`
		StaleAfterSec    int `mapstructure:"stale_after_sec"`
	} `mapstructure:"push"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or "yaml"
	viper.AddConfigPath(".")      // looking for config in the current directory

	// --- Environment Variable Overrides ---
	// This tells Viper to look for environment variables with a "VOICENOTES_" prefix.
	// e.g., VOICENOTES_DATABASE_PATH will override the `database.path` key.
	viper.SetEnvPrefix("VOICENOTES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("port", 8080)
	viper.SetDefault("database.path", "./voicenotes.db")
	viper.SetDefault("storage.path", "./recordings")
	viper.SetDefault("drop_folder.path", "")
	viper.SetDefault("drop_folder.user_id", 1)
	viper.SetDefault("worker.command", "transcribe-worker")
	viper.SetDefault("worker.args", []string{})
	viper.SetDefault("worker.ready_timeout_sec", 10)
	viper.SetDefault("worker.request_timeout_sec", 30)
	viper.SetDefault("worker.grace_timeout_sec", 5)
	viper.SetDefault("worker.max_restarts", 3)
	viper.SetDefault("worker.backoff_base_ms", 1000)
	viper.SetDefault("worker.backoff_max_ms", 30000)
	viper.SetDefault("transcribe.poll_interval_sec", 2)
	viper.SetDefault("transcribe.poll_budget_sec", 300)
	viper.SetDefault("push.ping_interval_sec", 30)
	viper.SetDefault("push.sweep_interval_sec", 30)
	viper.SetDefault("push.stale_after_sec", 60)
}
