package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/store"
	"github.com/couchcryptid/aqi-predict-service/internal/app"
	"github.com/couchcryptid/aqi-predict-service/internal/config"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
)

type commandContext struct {
	envFile  *string
	logLevel *string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(envFile, logLevel *string) *commandContext {
	return &commandContext{envFile: envFile, logLevel: logLevel}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if c.envFile != nil && *c.envFile != "" {
			if err := godotenv.Load(*c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.configErr = err
				return
			}
		}
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevel != nil && *c.logLevel != "" {
			cfg.LogLevel = *c.logLevel
		}
		c.config = cfg
		// Commands print their own output; logs default to terse text.
		c.logger = observability.NewLogger(cfg.LogLevel, "text")
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStore(ctx, cfg, c.logger)
}
