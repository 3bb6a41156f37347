package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	cfgPkg "github.com/xhad/doctalk/pkg/config"
	"github.com/xhad/doctalk/pkg/document"
	"github.com/xhad/doctalk/pkg/fetcher"
	"github.com/xhad/doctalk/pkg/llm"
	"github.com/xhad/doctalk/pkg/metrics"
	"github.com/xhad/doctalk/pkg/processor"
	"github.com/xhad/doctalk/pkg/ranker"
	"github.com/xhad/doctalk/pkg/store"
)

// components holds everything shared by the serve and chat commands.
type components struct {
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	store       *store.DocumentStore
	processor   processor.Processor
	ranker      *ranker.Ranker
	chatEngine  *llm.ChatEngine
	coordinator *llm.Coordinator
	documents   *document.Service
	fetcher     *fetcher.Fetcher
}

func buildComponents(config *cfgPkg.Config, log *zap.Logger, onFetch func(string)) (*components, error) {
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    config.LLM.Provider,
		Model:       config.LLM.Model,
		BaseURL:     config.LLM.BaseURL,
		APIKey:      config.LLM.APIKey,
		Temperature: config.LLM.Temperature,
		MaxTokens:   config.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	c := &components{
		registry:   registry,
		metrics:    m,
		store:      store.New(),
		chatEngine: chatEngine,
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize: config.Processor.ChunkSize,
		}),
		ranker: ranker.NewWithConfig(ranker.RankerConfig{
			Workers:     config.Retrieval.Workers,
			CacheTTL:    config.Retrieval.CacheTTL,
			DefaultTopK: config.Retrieval.MaxRelevantChunks,
		}),
		coordinator: llm.NewCoordinator(chatEngine, llm.CoordinatorConfig{
			BatchSize:   config.Generation.BatchSize,
			Timeout:     config.Generation.Timeout,
			CiteSources: config.Generation.CiteSources,
		}, log.Named("coordinator")),
		fetcher: fetcher.NewWithConfig(fetcher.FetcherConfig{
			RateLimit:            config.Fetcher.RateLimit,
			Timeout:              config.Fetcher.Timeout,
			MaxSize:              config.Server.MaxUploadSize,
			MaxDepth:             config.Fetcher.MaxDepth,
			IgnorePatterns:       config.Fetcher.IgnorePatterns,
			AllowPrivateNetworks: config.Fetcher.AllowPrivateNetworks,
			OnProgress:           onFetch,
		}),
	}
	c.documents = document.NewService(&c.processor, c.store, log.Named("document"), m)

	log.Info("components initialized",
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("llm_model", config.LLM.Model),
		zap.Int("chunk_size", c.processor.ChunkSize()),
	)
	return c, nil
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
