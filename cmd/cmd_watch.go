package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func watchCmd() *cobra.Command {
	var every time.Duration

	c := &cobra.Command{
		Use:   "watch",
		Short: "Keep a connection open and apply config changes as they happen",
		Long: `Connect to MongoDB, watch the config file and log the database
and cache health at a fixed interval until interrupted. Log level and
charging station ping interval changes are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			s.WatchConfig()
			s.Logger().Info("watching config", zap.String("file", conf.ConfigFile()))

			t := time.NewTicker(every)
			defer t.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					fields := []zap.Field{
						zap.Duration("ping_interval", s.DB().PingInterval()),
						zap.String("cache", s.CacheType()),
					}
					if err := s.Ping(ctx); err != nil {
						fields = append(fields, zap.NamedError("mongodb", err))
					}
					if c := s.Cache(); c != nil {
						fields = append(fields,
							zap.Any("cache_metrics", c.Metrics().Snapshot()),
							zap.Float64("hit_rate", c.Metrics().HitRate()))
					}
					s.Logger().Info("health", fields...)
				}
			}
		},
	}
	c.Flags().DurationVar(&every, "every", time.Minute, "Health log interval")
	return c
}
