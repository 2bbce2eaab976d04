// internal/config/config.go
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout"`
	HttpListenAddr    string        `mapstructure:"http_listen_addr"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
	DefaultServices   []string      `mapstructure:"default_services"`
	WorkerTTL         int64         `mapstructure:"worker_ttl"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	ReaperSchedule    string        `mapstructure:"reaper_schedule"`
	TaskTTL           time.Duration `mapstructure:"task_ttl"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("etcd_timeout", "5s")
	viper.SetDefault("http_listen_addr", ":8080")
	viper.SetDefault("batch_timeout", "10s")
	viper.SetDefault("default_services", []string{"ip-validation", "domain-lookup"})
	viper.SetDefault("worker_ttl", 10)
	viper.SetDefault("worker_concurrency", 8)
	viper.SetDefault("reaper_schedule", "*/30 * * * * *")
	viper.SetDefault("task_ttl", "2m")
	viper.SetDefault("leader_election_ttl", "10s")

	// Set config file details
	viper.SetConfigName("config")    // name of config file (without extension)
	viper.SetConfigType("yaml")      // or "json", "toml"
	viper.AddConfigPath("./configs") // path to look for the config file in
	viper.AddConfigPath(".")         // optionally look for config in the working directory

	// Read environment variables
	viper.AutomaticEnv()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults and env vars
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
