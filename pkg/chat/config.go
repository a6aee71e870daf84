package chat

import (
	internalcfg "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/config"
)

// Config re-exports the daemon's configuration structure so downstream
// integrations can reuse the same parsed values without importing internal
// packages.
type Config = internalcfg.AppConfig

// LoadConfig delegates to the internal loader while keeping the consumer API
// inside the public pkg/chat namespace.
func LoadConfig(root string) (Config, error) {
	return internalcfg.LoadAppConfig(root)
}
