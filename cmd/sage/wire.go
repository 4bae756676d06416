package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/nugget/sage-agent/internal/agent"
	"github.com/nugget/sage-agent/internal/buildinfo"
	"github.com/nugget/sage-agent/internal/config"
	"github.com/nugget/sage-agent/internal/connwatch"
	"github.com/nugget/sage-agent/internal/docs"
	"github.com/nugget/sage-agent/internal/embeddings"
	"github.com/nugget/sage-agent/internal/fetch"
	"github.com/nugget/sage-agent/internal/httpkit"
	"github.com/nugget/sage-agent/internal/llm"
	"github.com/nugget/sage-agent/internal/memory"
	"github.com/nugget/sage-agent/internal/paths"
	"github.com/nugget/sage-agent/internal/safety"
	"github.com/nugget/sage-agent/internal/search"
	"github.com/nugget/sage-agent/internal/summarizer"
	"github.com/nugget/sage-agent/internal/tools"
)

// defaultOpenAIEmbeddingURL is the API base for provider "openai" when
// docs.vector.base_url is empty.
const defaultOpenAIEmbeddingURL = "https://api.openai.com/v1"

// app holds the wired components shared by serve and ask.
type app struct {
	loop   *agent.Loop
	memory *memory.Assembler
	store  memory.Store

	// probes are the reachability checks serve hands to connwatch.
	probes map[string]connwatch.ProbeFunc
}

// pinger is implemented by model clients that can check their server.
type pinger interface {
	Ping(ctx context.Context) error
}

// Close releases storage.
func (a *app) Close() error {
	return a.store.Close()
}

// build constructs every component from cfg: model, storage, memory,
// safety, tools and the agent loop.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	resolver := newResolver(cfg)

	model, err := llm.New(cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	counter := llm.NewTokenCounter(cfg.Model.CountTokens, logger)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			store.Close()
		}
	}()

	var sum memory.Summarizer
	if cfg.Summary.Enabled {
		sum = summarizer.New(model, counter, logger, summarizer.Config{
			Timeout:   time.Duration(cfg.Summary.TimeoutSec) * time.Second,
			MaxTokens: cfg.Summary.MaxTokens,
		})
	}
	mem := memory.NewAssembler(store, sum, memory.AssemblerConfig{
		RecentWindow:   cfg.Agent.RecentWindow,
		CacheSummaries: cfg.Summary.Cache,
	}, logger)

	safetyCfg := cfg.Safety
	safetyCfg.PolicyFile = resolver.Resolve(safetyCfg.PolicyFile)
	classifier, err := safety.New(ctx, safetyCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("safety policy: %w", err)
	}

	registry, err := buildTools(cfg, resolver, model, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("tools registered", "tools", registry.Names())

	loop := agent.NewLoop(model, registry, mem, classifier, counter, logger, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
	})

	probes := make(map[string]connwatch.ProbeFunc)
	if p, isPinger := model.(pinger); isPinger {
		probes["model"] = p.Ping
	}
	if p, isPinger := store.(memory.Pinger); isPinger {
		probes["storage"] = p.Ping
	}

	ok = true
	return &app{loop: loop, memory: mem, store: store, probes: probes}, nil
}

// buildTools registers the built-in tools. Web search is only offered
// when at least one provider is configured.
func buildTools(cfg *config.Config, resolver *paths.Resolver, model llm.Client, logger *slog.Logger) (*tools.Registry, error) {
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(cfg.Agent.ToolTimeout()),
		httpkit.WithUserAgent(buildinfo.UserAgent()),
		httpkit.WithLogger(logger),
	)

	lookup := &docs.Lookup{
		Path:    resolver.Resolve(cfg.Docs.Path),
		BaseURL: cfg.Docs.BaseURL,
		TopK:    cfg.Docs.TopK,
		Logger:  logger,
	}
	if cfg.Docs.Vector.Enabled {
		idx, err := openVectorIndex(cfg.Docs.Vector, resolver, logger)
		if err != nil {
			return nil, err
		}
		lookup.Retriever = idx
	}

	list := []*tools.Tool{
		docs.Tool(lookup),
		tools.APIAgent(httpClient, logger),
		tools.PythonExpert(model, cfg.Model.Timeout()),
		tools.JokeGenerator(httpClient, ""),
		tools.CurrentTime(time.Now),
		tools.SolveMath(),
		tools.SaveUserProfile(),
		fetch.Tool(fetch.New(httpClient)),
	}
	if mgr := newSearchManager(cfg.Search); mgr.Configured() {
		list = append(list, search.Tool(mgr))
	}

	return tools.NewRegistry(cfg.Agent.ToolTimeout(), logger, list...)
}

// newResolver anchors the "data:" path prefix at cfg.DataDir.
func newResolver(cfg *config.Config) *paths.Resolver {
	return paths.New(map[string]string{"data": cfg.DataDir})
}

// openStore opens the conversation store selected by storage.driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (memory.Store, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case config.DriverSQLite:
		path := newResolver(cfg).Resolve(sc.Path)
		if path == "" {
			return nil, errors.New("storage.path is required for sqlite3")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := memory.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open memory database %s: %w", path, err)
		}
		logger.Info("memory database opened", "driver", sc.Driver, "path", path)
		return store, nil
	case config.DriverPostgres:
		store, err := memory.OpenPostgres(ctx, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres memory store: %w", err)
		}
		logger.Info("memory database opened", "driver", sc.Driver)
		return store, nil
	case config.DriverMongo:
		store, err := memory.OpenMongo(ctx, sc.DSN, sc.Database)
		if err != nil {
			return nil, fmt.Errorf("open mongodb memory store: %w", err)
		}
		logger.Info("memory database opened", "driver", sc.Driver, "database", sc.Database)
		return store, nil
	case config.DriverMemory:
		logger.Warn("using in-memory conversation store; nothing will persist")
		return memory.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

// openVectorIndex opens the chromem index with the configured embedding
// provider.
func openVectorIndex(vc config.VectorConfig, resolver *paths.Resolver, logger *slog.Logger) (*docs.VectorIndex, error) {
	var embed chromem.EmbeddingFunc
	switch vc.Provider {
	case "", config.ProviderOllama:
		embed = embeddings.New(embeddings.Config{BaseURL: vc.BaseURL, Model: vc.Model}).Generate
	case config.ProviderOpenAI:
		base := vc.BaseURL
		if base == "" {
			base = defaultOpenAIEmbeddingURL
		}
		embed = chromem.NewEmbeddingFuncOpenAICompat(base, vc.APIKey, vc.Model, nil)
	default:
		return nil, fmt.Errorf("unknown docs.vector.provider %q", vc.Provider)
	}

	dir := resolver.Resolve(vc.PersistDir)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vector directory: %w", err)
		}
	}
	return docs.NewVectorIndex(dir, embed, logger)
}

// newSearchManager registers every configured provider. The default
// is dropped when it names a provider that is not configured.
func newSearchManager(sc config.SearchConfig) *search.Manager {
	var providers []search.Provider
	if sc.SearXNG.URL != "" {
		providers = append(providers, search.NewSearXNG(sc.SearXNG.URL))
	}
	if sc.Brave.APIKey != "" {
		providers = append(providers, search.NewBrave(sc.Brave.APIKey, ""))
	}
	if sc.Tavily.APIKey != "" {
		providers = append(providers, search.NewTavily(sc.Tavily.APIKey, ""))
	}

	primary := ""
	for _, p := range providers {
		if p.Name() == sc.Default {
			primary = sc.Default
		}
	}
	return search.NewManager(primary, providers...)
}
