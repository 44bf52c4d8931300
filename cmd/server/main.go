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
	usersgorm "github.com/gameinsight/gameinsight/internal/repo/gorm/users"
	"github.com/gameinsight/gameinsight/internal/scheduler"
	httpserver "github.com/gameinsight/gameinsight/internal/server/http"
)

func main() {
	var cfgFile string
	var cfgIncludes []string
	root := &cobra.Command{
		Use:   "gameinsight-server",
		Short: "GameInsight API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// default logger to stdout for early logs
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
				} else {
					slog.Info("config loaded", "file", cfgFile, "includes", len(cfgIncludes))
				}
			}
			v := viper.GetViper()
			if sub := v.Sub("server"); sub != nil {
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
			if err := usersgorm.AutoMigrate(gdb); err != nil {
				slog.Error("migrate users schema", "error", err)
				os.Exit(1)
			}
			gamesRepo := games.NewRepo(gdb)
			usersRepo := usersgorm.New(gdb)

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

			// registry only names functions here; the worker process executes them
			reg := ingest.NewRegistry(cat, gamesRepo, events)

			sched := scheduler.New(qc, reg)
			seeds := scheduler.DefaultTasks()
			if cfg.TasksFile != "" {
				if loaded, err := scheduler.LoadSeedFile(cfg.TasksFile); err != nil {
					slog.Warn("load tasks file, using defaults", "file", cfg.TasksFile, "error", err)
				} else {
					seeds = loaded
				}
			}
			sched.Seed(seeds)
			sched.Start()

			srv := httpserver.NewServer(gamesRepo, usersRepo, sched, qc)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(cfg.HTTPAddr) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			var serveErr error
			select {
			case sig := <-sigCh:
				slog.Info("shutdown signal", "signal", sig.String())
			case serveErr = <-errCh:
				if serveErr != nil {
					slog.Error("serve http", "error", serveErr)
				}
			}
			sched.Shutdown()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown", "error", err)
			}
			return serveErr
		},
	}

	root.Flags().StringVar(&cfgFile, "config", "", "config file (yaml), e.g. configs/server.yaml")
	root.Flags().StringSliceVar(&cfgIncludes, "config-include", nil, "extra config files merged over the base config")
	root.Flags().String("http_addr", ":8000", "http api listen address")
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
	root.Flags().String("tasks_file", "", "schedule seed file (yaml)")
	_ = viper.BindPFlags(root.Flags())

	if err := root.Execute(); err != nil {
		slog.Error("server exit", "error", err)
		os.Exit(1)
	}
}
