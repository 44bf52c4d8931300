// Package config holds runtime configuration for the API server and the
// ingest worker. Values come from flags, a YAML file and GAMEINSIGHT_*
// environment variables via viper; the three external credentials
// (database, broker, catalog API key) are mandatory.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string

	DatabaseURL string
	RedisURL    string

	// RAWG catalog credential; absence is a fatal startup error.
	RAWGAPIKey  string
	RAWGBaseURL string

	// Queue naming; defaults are fine outside tests.
	TaskStream    string
	ConsumerGroup string
	ResultTTL     time.Duration

	// Optional ingest-event publisher: none|redis|kafka.
	AnalyticsMQ  string
	KafkaBrokers []string
	KafkaTopic   string

	// Path to the default schedule seed (YAML); optional.
	TasksFile string
}

// FromViper builds a Config applying defaults for everything optional.
func FromViper(v *viper.Viper) *Config {
	c := &Config{
		HTTPAddr:      v.GetString("http_addr"),
		DatabaseURL:   v.GetString("database_url"),
		RedisURL:      v.GetString("redis_url"),
		RAWGAPIKey:    v.GetString("rawg_api_key"),
		RAWGBaseURL:   v.GetString("rawg_base_url"),
		TaskStream:    v.GetString("queue.stream"),
		ConsumerGroup: v.GetString("queue.group"),
		ResultTTL:     v.GetDuration("queue.result_ttl"),
		AnalyticsMQ:   v.GetString("analytics.mq"),
		KafkaTopic:    v.GetString("analytics.kafka_topic"),
		TasksFile:     v.GetString("tasks_file"),
	}
	if bs := strings.TrimSpace(v.GetString("analytics.kafka_brokers")); bs != "" {
		c.KafkaBrokers = strings.Split(bs, ",")
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8000"
	}
	if c.RAWGBaseURL == "" {
		c.RAWGBaseURL = "https://api.rawg.io/api"
	}
	if c.TaskStream == "" {
		c.TaskStream = "ingest:tasks"
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "ingest-workers"
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
	if c.AnalyticsMQ == "" {
		c.AnalyticsMQ = "none"
	}
	return c
}

// Validate enforces the required-at-start credentials.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		missing = append(missing, "database_url")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		missing = append(missing, "redis_url")
	}
	if strings.TrimSpace(c.RAWGAPIKey) == "" {
		missing = append(missing, "rawg_api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
