package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"teamline/config"
	"teamline/internal/devserver"
	"teamline/pkg/logger"
)

func main() {
	cfg := config.Load()

	lg := logger.New(cfg.Server.Environment)
	logger.SetGlobalLogger(lg)
	defer lg.Logger.Sync()

	opts := devserver.ServerOptions{
		JWTSecret: cfg.Server.JWTSecret,
		JWTExpiry: cfg.Server.JWTExpiry,
		Logger:    lg,
	}

	ctx := context.Background()

	if cfg.S3.Bucket != "" {
		uploader, err := devserver.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("s3 uploader: %v", err)
		}
		opts.Uploader = uploader
		lg.Infof("uploads backed by s3 bucket %s", cfg.S3.Bucket)
	}

	srv := devserver.NewServer(opts)
	srv.BaseURL = "http://localhost:" + cfg.Server.Port

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		fanout := devserver.NewRedisFanout(rdb, srv.Hub(), lg)
		fanout.Run(ctx)
		srv.SetFanout(fanout)
		lg.Infof("event fanout bridged through redis at %s", cfg.Redis.Addr)
	}

	lg.Infof("dev server listening on :%s", cfg.Server.Port)
	if err := srv.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
