package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gameinsight/gameinsight/internal/analytics/mq"
	"github.com/gameinsight/gameinsight/internal/catalog"
	common "github.com/gameinsight/gameinsight/internal/cli/common"
	"github.com/gameinsight/gameinsight/internal/config"
	"github.com/gameinsight/gameinsight/internal/db"
	"github.com/gameinsight/gameinsight/internal/ingest"
	"github.com/gameinsight/gameinsight/internal/queue"
	games "github.com/gameinsight/gameinsight/internal/repo/gorm/games"
)

func main() {
	var cfgFile string
	var cfgIncludes []string
	var name string
	root := &cobra.Command{
		Use:   "gameinsight-worker",
		Short: "GameInsight ingest worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLoggerWithFile("info", "console", "", 0, 0, 0, false)
			viper.SetEnvPrefix("GAMEINSIGHT")
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			viper.AutomaticEnv()
			if cfgFile != "" {
				lv, err := common.LoadWithIncludes(cfgFile, cfgIncludes)
				if err != nil {
					slog.Warn("read config", "error", err)
				} else if err := viper.MergeConfigMap(lv.AllSettings()); err != nil {
					slog.Warn("merge config", "error", err)
				}
			}
			v := viper.GetViper()
			if sub := v.Sub("worker"); sub != nil {
				v = sub
			}
			common.MergeLogSection(v)
			common.SetupLoggerWithFile(
				v.GetString("log.level"),
				v.GetString("log.format"),
				v.GetString("log.file"),
				v.GetInt("log.max_size"),
				v.GetInt("log.max_backups"),
				v.GetInt("log.max_age"),
				v.GetBool("log.compress"),
			)

			cfg := config.FromViper(v)
			if err := cfg.Validate(); err != nil {
				slog.Error("config", "error", err)
				os.Exit(1)
			}

			gdb, err := db.Open(cfg.DatabaseURL)
			if err != nil {
				slog.Error("open database", "error", err)
				os.Exit(1)
			}
			if err := games.AutoMigrate(gdb); err != nil {
				slog.Error("migrate games schema", "error", err)
				os.Exit(1)
			}

			cat, err := catalog.New(cfg.RAWGBaseURL, cfg.RAWGAPIKey)
			if err != nil {
				slog.Error("catalog client", "error", err)
				os.Exit(1)
			}

			qc, err := queue.New(cfg.RedisURL, cfg.TaskStream, cfg.ConsumerGroup, cfg.ResultTTL)
			if err != nil {
				slog.Error("queue", "error", err)
				os.Exit(1)
			}
			defer qc.Close()

			events := mq.FromConfig(cfg.AnalyticsMQ, cfg.RedisURL, "", cfg.KafkaBrokers, cfg.KafkaTopic)
			defer events.Close()

			reg := ingest.NewRegistry(cat, games.NewRepo(gdb), events)
			w := queue.NewWorker(qc, reg, name)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			slog.Info("ingest worker started")
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("run", "error", err)
				os.Exit(1)
			}
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}

	root.Flags().StringVar(&cfgFile, "config", "", "config file (yaml), e.g. configs/server.yaml")
	root.Flags().StringSliceVar(&cfgIncludes, "config-include", nil, "extra config files merged over the base config")
	root.Flags().StringVar(&name, "name", "", "worker name (defaults to host-pid)")
	root.Flags().String("database_url", "", "database DSN/URL; postgres://... or a sqlite path")
	root.Flags().String("redis_url", "", "redis URL for the task queue")
	root.Flags().String("rawg_api_key", "", "RAWG API key")
	root.Flags().String("rawg_base_url", "", "RAWG API base URL override")
	root.Flags().String("queue.stream", "", "task stream name")
	root.Flags().String("queue.group", "", "consumer group name")
	root.Flags().Duration("queue.result_ttl", 24*time.Hour, "task result retention")
	root.Flags().String("analytics.mq", "none", "ingest event publisher: none|redis|kafka")
	root.Flags().String("analytics.kafka_brokers", "", "comma-separated kafka brokers")
	root.Flags().String("analytics.kafka_topic", "", "kafka topic for ingest events")
	_ = viper.BindPFlags(root.Flags())

	if err := root.Execute(); err != nil {
		slog.Error("worker exit", "error", err)
		os.Exit(1)
	}
}
