package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	v.Set("database_url", "app.db")
	v.Set("redis_url", "redis://localhost:6379/0")
	v.Set("rawg_api_key", "k")

	c := FromViper(v)
	if c.HTTPAddr != ":8000" {
		t.Fatalf("http addr = %q", c.HTTPAddr)
	}
	if c.RAWGBaseURL != "https://api.rawg.io/api" {
		t.Fatalf("base url = %q", c.RAWGBaseURL)
	}
	if c.TaskStream != "ingest:tasks" || c.ConsumerGroup != "ingest-workers" {
		t.Fatalf("queue naming = %q %q", c.TaskStream, c.ConsumerGroup)
	}
	if c.ResultTTL != 24*time.Hour {
		t.Fatalf("result ttl = %s", c.ResultTTL)
	}
	if c.AnalyticsMQ != "none" {
		t.Fatalf("analytics mq = %q", c.AnalyticsMQ)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFromViperKafkaBrokers(t *testing.T) {
	v := viper.New()
	v.Set("analytics.kafka_brokers", "a:9092, b:9092")
	c := FromViper(v)
	if len(c.KafkaBrokers) != 2 {
		t.Fatalf("brokers = %v", c.KafkaBrokers)
	}
}

func TestValidateListsAllMissing(t *testing.T) {
	c := FromViper(viper.New())
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"database_url", "redis_url", "rawg_api_key"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q missing %q", err, key)
		}
	}
}
