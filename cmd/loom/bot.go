package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomkit/loom/internal/botfile"
	"github.com/loomkit/loom/internal/config"
	"github.com/loomkit/loom/internal/credentials"
	"github.com/loomkit/loom/internal/engine"
	"github.com/loomkit/loom/internal/signals"
	"github.com/loomkit/loom/internal/toolkit"
)

// newBot constructs a fresh Bot from loom.yaml plus any --engine/--name
// overrides, resolving credentials for whichever provider the chosen
// engine belongs to. Mirrors the teacher's cmd/nexus/config.go
// loadMCPManager shape: resolve config, then build the dependent
// object from it.
func newBot(ctx context.Context, name, engineName string) (*botfile.Bot, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if engineName == "" {
		engineName = cfg.Engine
	}

	e, ok := engine.Get(engineName)
	if !ok {
		return nil, fmt.Errorf("loom: unknown engine %q", engineName)
	}
	apiKey, err := credentials.Lookup(e.Provider)
	if err != nil {
		return nil, err
	}

	return botfile.New(ctx, botfile.Config{
		Name:          name,
		EngineName:    engineName,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		SystemMessage: cfg.SystemMessage,
		Autosave:      cfg.Autosave,
		Registry:      toolkit.NewRegistry(),
		Dispatcher:    signals.NewDispatcher(slog.Default()),
		APIKey:        apiKey,
	})
}

// loadBot reopens an existing bot file, resolving its persisted engine
// to the right credentials before Load builds the live Mailbox.
// botfile.Load requires an API key up front (credentials are never
// persisted), but which env var to read depends on the file's own
// model_engine field — hence the PeekEngine pass before Load.
func loadBot(ctx context.Context, path string) (*botfile.Bot, error) {
	engineName, err := botfile.PeekEngine(path)
	if err != nil {
		return nil, err
	}
	e, ok := engine.Get(engineName)
	if !ok {
		return nil, fmt.Errorf("loom: bot file %s uses unknown engine %q", path, engineName)
	}
	apiKey, err := credentials.Lookup(e.Provider)
	if err != nil {
		return nil, err
	}
	return botfile.Load(ctx, path, apiKey, signals.NewDispatcher(slog.Default()))
}
