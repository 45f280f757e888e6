package cli

import (
	"context"
	"errors"

	"github.com/aretw0/copilotz"
	"github.com/aretw0/copilotz/pkg/config"
	"github.com/aretw0/copilotz/pkg/ports"
)

var errOffline = errors.New("no chat model while inspecting")

type offlineChat struct{}

func (offlineChat) Execute(context.Context, ports.ChatRequest) (*ports.ChatResponse, error) {
	return nil, errOffline
}

// Inspect loads a definition and builds its actions and workflows without
// contacting the model or the configured stores.
func Inspect(ctx context.Context, path string) (*copilotz.Copilot, *config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	offline := *cfg
	offline.Store = config.Store{Driver: config.StoreMemory}
	c, err := copilotz.FromConfig(ctx, &offline, offlineChat{})
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

// OfflineChat returns a chat model that fails every call. It lets commands
// open the configured stores without an API key.
func OfflineChat() ports.ChatExecutor {
	return offlineChat{}
}
