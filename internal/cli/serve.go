package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/deepagents-dev/deepagents/internal/bus"
	"github.com/deepagents-dev/deepagents/internal/config"
	"github.com/deepagents-dev/deepagents/internal/engine"
	"github.com/deepagents-dev/deepagents/internal/httpapi"
	"github.com/deepagents-dev/deepagents/internal/metrics"
	"github.com/deepagents-dev/deepagents/internal/state"
	"github.com/deepagents-dev/deepagents/internal/store"
	"github.com/deepagents-dev/deepagents/internal/sweeper"
	"github.com/deepagents-dev/deepagents/pkg/llm"
	"github.com/deepagents-dev/deepagents/pkg/sandbox"
	"github.com/deepagents-dev/deepagents/pkg/tools"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func serve(ctx context.Context, configPath string, debug bool) error {
	ctrl.SetLogger(zap.New(zap.UseDevMode(debug)))
	log := ctrl.Log.WithName("agentd")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}

	restConfig, err := kubeConfig(cfg.Sandbox.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	sandboxMgr := sandbox.NewK8sManager(
		clientset,
		sandbox.NewSPDYExec(clientset, restConfig, cfg.Sandbox.Namespace),
		sandbox.Config{
			Namespace:        cfg.Sandbox.Namespace,
			Image:            cfg.Sandbox.Image,
			StorageRequest:   cfg.Sandbox.StorageRequest,
			ProvisionTimeout: cfg.Sandbox.ProvisionTimeout,
		},
		log,
	)

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	b := bus.New()
	sync := state.New(st, b)
	eng := engine.New(st, sync, b, sandboxMgr, tools.NewDefaultRegistry(nil), providers, m, nil,
		engine.Config{
			DefaultProvider: cfg.LLM.DefaultProvider,
			DefaultModel:    cfg.LLM.DefaultModel,
			MaxToolCalls:    cfg.Sessions.MaxToolCalls,
		}, log)
	runner := engine.NewRunner(eng, cfg.Sessions.EnqueueTimeout, log)

	sweep := sweeper.New(st, sandboxMgr, m, cfg.Sessions.Timeout, cfg.Sessions.SweepInterval, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sweep.Run(ctx)

	srv := httpapi.New(st, sandboxMgr, runner, sync, b, m, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := srv.HTTPServer(addr, registry)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("serving", "addr", addr, "namespace", cfg.Sandbox.Namespace)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func kubeConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if restConfig, err := rest.InClusterConfig(); err == nil {
		return restConfig, nil
	}
	// Outside a cluster, fall back to the default kubeconfig location.
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, nil).ClientConfig()
}

func buildProviders(cfg *config.Config) (llm.ProviderRegistry, error) {
	providers := llm.NewRegistry()
	for _, p := range cfg.LLM.Providers {
		var provider llm.Provider
		switch p.Name {
		case "anthropic":
			provider = llm.NewAnthropicProvider(p.APIKey)
		case "openai":
			provider = llm.NewOpenAIProvider(p.APIKey)
		case "openrouter":
			provider = llm.NewOpenRouterProvider(p.APIKey)
		case "ollama":
			provider = llm.NewOllamaProvider(p.Endpoint)
		default:
			return nil, fmt.Errorf("unknown llm provider %q", p.Name)
		}
		if err := providers.Register(provider); err != nil {
			return nil, err
		}
	}
	return providers, nil
}
