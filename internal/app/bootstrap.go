package app

import (
	"context"
	"fmt"

	"tgfleet/internal/config"
	"tgfleet/internal/storage"
	logx "tgfleet/pkg/logx"
)

// LoadConfig parses the file at path and resolves its typed settings.
func LoadConfig(path string) (*config.ConfigManager, *config.Config, config.Settings, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, config.Settings{}, err
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return nil, nil, config.Settings{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfgm, cfg, s, nil
}

// OpenStore opens the configured store. Offline CLI commands use it
// without starting the bot.
func OpenStore(ctx context.Context, path string, log logx.Logger) (storage.Store, error) {
	_, cfg, s, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, mapStorageConfig(cfg, s), log.With(logx.String("comp", "storage")))
}
