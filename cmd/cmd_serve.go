// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/server"
	"golang.org/x/time/rate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the HTTP service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := newExtractor(ctx)
		if err != nil {
			return err
		}

		repo, err := openStore(viper.GetString("db-path"))
		if err != nil {
			return fmt.Errorf("opening results store: %w", err)
		}

		if repo != nil {
			defer repo.DB().Close()
		}

		cfg := server.DefaultConfig()
		cfg.Addr = viper.GetString("addr")
		cfg.UploadDir = viper.GetString("upload-dir")
		cfg.ProcessedDir = viper.GetString("processed-dir")
		cfg.SessionTTL = viper.GetDuration("session-ttl")
		cfg.RateBurst = viper.GetInt("rate-burst")
		cfg.DailyLimit = viper.GetInt("daily-limit")
		cfg.UploadLimit = viper.GetInt("upload-per-minute")
		cfg.ProcessLimit = viper.GetInt("process-per-minute")
		cfg.Mode = extractMode()
		cfg.Retry = retryPolicy()
		cfg.Concurrency = viper.GetInt("concurrency")
		cfg.ReportMethods = viper.GetBool("report-methods")
		cfg.RequiredCols = viper.GetStringSlice("require-columns")

		if perHour := viper.GetFloat64("rate-per-hour"); perHour > 0 {
			cfg.RateLimit = rate.Limit(perHour / 3600)
		} else {
			cfg.RateLimit = rate.Inf
		}

		srv, err := server.New(cfg, e, repo, logger)
		if err != nil {
			return err
		}

		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	def := server.DefaultConfig()
	flags := serveCmd.Flags()
	flags.String("addr", def.Addr, "listen address")
	flags.String("upload-dir", def.UploadDir, "directory for uploaded workbooks")
	flags.String("processed-dir", def.ProcessedDir, "directory for processed workbooks")
	flags.Duration("session-ttl", def.SessionTTL, "how long uploads are kept")
	flags.Float64("rate-per-hour", 50, "requests per hour per client, 0 disables limiting")
	flags.Int("rate-burst", def.RateBurst, "requests a client may burst")
	flags.Int("daily-limit", def.DailyLimit, "requests per day per client, 0 disables")
	flags.Int("upload-per-minute", def.UploadLimit, "uploads per minute per client, 0 disables")
	flags.Int("process-per-minute", def.ProcessLimit, "process runs per minute per client, 0 disables")

	cobra.CheckErr(viper.BindPFlags(flags))
}
