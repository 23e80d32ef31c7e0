package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tson"
	"github.com/danmuck/tson/internal/observability"
)

func main() {
	fs := flag.NewFlagSet("tson-relay", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(os.Args[1:])

	logger := observability.InitLogger("tson-relay")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load relay config")
	}
	observability.RegisterMetrics()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(logger))
	router.Use(observability.RequestMetricsMiddleware(cfg.App))

	session := tson.New(tson.Options{
		OnStreamError: func(err error) {
			log.Warn().Err(err).Msg("stream fault")
		},
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": cfg.App,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stream", func(c *gin.Context) {
		tson.SSEHeaders(c.Writer.Header())
		root := demoRoot(cfg)
		if err := session.EncodeSSE(c.Request.Context(), c.Writer, root); err != nil {
			log.Warn().Err(err).Msg("stream aborted")
		}
	})

	log.Info().Str("addr", cfg.Addr).Msg("relay started")
	if err := router.Run(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}

// demoRoot streams a tick sequence alongside a delayed status promise, so a
// client sees rows arrive live.
func demoRoot(cfg relayConfig) map[string]any {
	ticks := tson.NewSequence(func(ctx context.Context, yield func(any) error) error {
		for i := 0; i < cfg.TickCount; i++ {
			select {
			case <-time.After(cfg.TickInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := yield(fmt.Sprintf("tick %d", i)); err != nil {
				return err
			}
		}
		return nil
	})
	status := tson.NewPromise(func(ctx context.Context) (any, error) {
		select {
		case <-time.After(cfg.TickInterval / 2):
			return map[string]any{"ready": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return map[string]any{
		"service": "tson-relay",
		"ticks":   ticks,
		"status":  status,
	}
}
