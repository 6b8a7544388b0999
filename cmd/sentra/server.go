package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	wrapping "github.com/openbao/go-kms-wrapping/v2"
	aeadwrapper "github.com/openbao/go-kms-wrapping/wrappers/aead/v2"
	"github.com/spf13/cobra"

	"github.com/sentra-id/sentra/audit"
	"github.com/sentra-id/sentra/config"
	"github.com/sentra-id/sentra/core"
	sentrahttp "github.com/sentra-id/sentra/http"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
	_ "github.com/sentra-id/sentra/storage/inmem"
	_ "github.com/sentra-id/sentra/storage/postgres"
	"github.com/sentra-id/sentra/token"
)

var (
	configPath string

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start a sentra server that responds to API requests",
		Long: `
Usage: sentra server [options]

  Start a server with a configuration file:

      $ sentra server --config=/etc/sentra/config.hcl
`,
		RunE: runServer,
	}
)

func init() {
	serverCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/sentra.hcl)")
}

func runServer(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("config file path is required. Use -c or --config flag")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(conf.Listeners) == 0 {
		return fmt.Errorf("at least one listener must be configured")
	}

	log := buildLogger(conf)
	defer log.Close()

	backend, err := buildStorage(cmd.Context(), conf, log)
	if err != nil {
		return fmt.Errorf("failed to construct the storage: %w", err)
	}

	seal, err := buildSeal(cmd.Context(), conf)
	if err != nil {
		return fmt.Errorf("failed to configure seal: %w", err)
	}

	coreConfig, err := buildCoreConfig(conf, backend, seal, log)
	if err != nil {
		return err
	}

	c, err := core.NewCore(coreConfig)
	if err != nil {
		return fmt.Errorf("error initializing core: %w", err)
	}
	c.StartJobs()

	handler := sentrahttp.Handler(&sentrahttp.HandlerProperties{
		Core:   c,
		Logger: log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := make([]*nethttp.Server, 0, len(conf.Listeners))
	errChan := make(chan error, len(conf.Listeners))
	var wg sync.WaitGroup
	for _, ln := range conf.Listeners {
		srv := &nethttp.Server{
			Addr:         ln.Address,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		servers = append(servers, srv)

		wg.Add(1)
		go func(ln config.ListenerBlock, srv *nethttp.Server) {
			defer wg.Done()
			log.Info("listener started",
				logger.String("name", ln.Name),
				logger.String("address", ln.Address),
				logger.Bool("tls", ln.TLSEnabled))
			var err error
			if ln.TLSEnabled {
				err = srv.ListenAndServeTLS(ln.TLSCertFile, ln.TLSKeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				errChan <- fmt.Errorf("listener %s: %w", ln.Name, err)
			}
		}(ln, srv)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "==> Sentra server started! Log data will stream in below:\n")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errChan:
		log.Error("listener failed", logger.Err(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("listener shutdown failed", logger.Err(err))
		}
	}
	wg.Wait()

	if err := c.Shutdown(); err != nil {
		return fmt.Errorf("core shutdown failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server shutdown completed successfully\n")
	return nil
}

func buildLogger(conf *config.Config) logger.Logger {
	logConfig := &logger.Config{
		Level:     logger.ParseLogLevel(conf.LogLevel),
		Format:    conf.LogFormat,
		Subsystem: "sentra",
		Output:    os.Stdout,
	}
	if conf.LogFile != "" {
		logConfig.FileConfig = &logger.FileConfig{
			Filename:   conf.LogFile,
			MaxSize:    conf.LogRotateMegabytes,
			MaxBackups: conf.LogRotateMaxFiles,
		}
	}
	return logger.NewLogger(logConfig)
}

func buildStorage(ctx context.Context, conf *config.Config, log logger.Logger) (storage.Backend, error) {
	if conf.Storage == nil {
		return nil, errors.New("a storage backend must be specified")
	}
	return storage.NewBackend(ctx, conf.Storage.Config(), log.WithSubsystem("storage."+conf.Storage.Type))
}

func buildSeal(ctx context.Context, conf *config.Config) (wrapping.Wrapper, error) {
	if conf.Seal == nil {
		return nil, errors.New("a seal block is required to protect signing keys at rest")
	}
	switch conf.Seal.Type {
	case "aead":
		key := conf.Seal.Key
		if key == "" {
			key = os.Getenv("SENTRA_SEAL_KEY")
		}
		if key == "" {
			return nil, errors.New("seal \"aead\" requires key in config or SENTRA_SEAL_KEY")
		}
		wrapper := aeadwrapper.NewWrapper()
		if _, err := wrapper.SetConfig(ctx, wrapping.WithConfigMap(map[string]string{
			"key":    key,
			"key_id": "root",
		})); err != nil {
			return nil, err
		}
		return wrapper, nil
	default:
		return nil, fmt.Errorf("unknown seal type %q", conf.Seal.Type)
	}
}

func buildCoreConfig(conf *config.Config, backend storage.Backend, seal wrapping.Wrapper, log logger.Logger) (*core.Config, error) {
	coreConfig := &core.Config{
		Backend: backend,
		Seal:    seal,
		Logger:  log,
	}

	if conf.Tokens != nil {
		var err error
		coreConfig.Issuer = conf.Tokens.Issuer
		if coreConfig.AccessTTL, err = conf.Tokens.AccessTTL(); err != nil {
			return nil, err
		}
		if coreConfig.RefreshTTL, err = conf.Tokens.RefreshTTL(); err != nil {
			return nil, err
		}
		if coreConfig.ForensicWindow, err = conf.Tokens.ForensicWindow(); err != nil {
			return nil, err
		}
		switch conf.Tokens.DenylistType {
		case "", "inmem":
		case "redis":
			coreConfig.Denylist = token.NewRedisDenylist(
				conf.Tokens.RedisAddress, conf.Tokens.RedisPassword, log)
		default:
			return nil, fmt.Errorf("unknown denylist type %q", conf.Tokens.DenylistType)
		}
	}

	if conf.Policy != nil {
		var err error
		coreConfig.PolicyCacheSize = conf.Policy.CacheSize
		if coreConfig.PolicyStaleness, err = conf.Policy.Staleness(); err != nil {
			return nil, err
		}
	}

	if conf.Audit != nil {
		coreConfig.AuditSinks = map[string]audit.Sink{}
		if conf.Audit.FilePath != "" {
			coreConfig.AuditSinks["file"] = audit.NewFileSink(conf.Audit.FilePath)
		}
		if conf.Audit.WebhookURL != "" {
			coreConfig.AuditSinks["webhook"] = audit.NewWebhookNotifier(conf.Audit.WebhookURL)
		}
	}

	return coreConfig, nil
}
