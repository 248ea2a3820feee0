package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/paird"
	"pkt.systems/paird/internal/loggingutil"
	"pkt.systems/paird/internal/protocol/devclient"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("PAIRD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "paird")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			loggingutil.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := paird.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, paird.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg paird.Config

	cmd := &cobra.Command{
		Use:           "paird",
		Short:         "paird links messaging-protocol sessions by phone-number pairing code and archives the credentials to durable storage",
		SilenceErrors: true,
		Example: `
  # In-memory working store, disk archive
  paird --store mem:// --archive disk:///var/lib/paird-archive

  # SQLite working store, MinIO archive (TLS on by default; append ?insecure=1 for HTTP)
  PAIRD_S3_ACCESS_KEY_ID=minioadmin PAIRD_S3_SECRET_ACCESS_KEY=minioadmin \
    paird --store sqlite:///var/lib/paird/sessions.db --archive s3://localhost:9000/paird-archive?insecure=1

  # AWS S3 archive (expects AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY)
  paird --store mem:// --archive aws://my-bucket/paird --aws-region us-west-2

  # Azure Blob archive (expects AZURE_STORAGE_ACCOUNT_KEY)
  paird --store mem:// --archive azure://myaccount/paird-archive
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := loggingutil.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			bindConfig(&cfg)
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = loggingutil.WithSubsystem(logger, "cli.root")
			}

			dialer := &devclient.Dialer{
				LinkDelay: viper.GetDuration("dev-link-delay"),
				Logger:    logger,
			}
			server, err := paird.NewServer(cfg,
				paird.WithLogger(logger),
				paird.WithDialer(dialer),
			)
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.paird/"+paird.DefaultConfigFileName+")")

	flags := cmd.Flags()
	flags.String("listen", paird.DefaultListen, "pairing API listen address")
	flags.String("metrics-listen", paird.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables; default off)")
	flags.String("store", paird.DefaultStore, "working session store URL (mem://, disk:///path, sqlite:///path, s3://host[:port]/bucket, aws://bucket, azure://account/container)")
	flags.StringSlice("archive", nil, "archive store URL for finalized sessions (repeatable; at least one required)")
	flags.String("session-prefix", paird.DefaultSessionPrefix, "prefix prepended to minted session identifiers")
	flags.Duration("settle-delay", paird.DefaultSettleDelay, "drain delay before pairing-code issuance and before upload")
	flags.Duration("reconnect-base-delay", paird.DefaultReconnectBaseDelay, "base backoff delay after a transient disconnect")
	flags.Duration("reconnect-max-delay", paird.DefaultReconnectMaxDelay, "maximum backoff delay between reconnect attempts")
	flags.Int("reconnect-max-attempts", paird.DefaultReconnectMaxAttempts, "maximum reconnect attempts per pairing flow")
	flags.Duration("dev-link-delay", 3*time.Second, "simulated link delay for the built-in development protocol client")
	flags.String("aws-region", "", "AWS region for aws:// stores")
	flags.String("azure-account", "", "Azure Storage account name (or use AZURE_STORAGE_ACCOUNT)")
	flags.String("azure-key", "", "Azure Storage account key (or use PAIRD_AZURE_ACCOUNT_KEY)")
	flags.String("azure-endpoint", "", "Azure Blob service endpoint override")
	flags.String("azure-sas-token", "", "Azure SAS token (optional alternative to account key)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("PAIRD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config",
		"listen", "metrics-listen", "store", "archive", "session-prefix",
		"settle-delay", "reconnect-base-delay", "reconnect-max-delay", "reconnect-max-attempts",
		"dev-link-delay",
		"aws-region", "azure-account", "azure-key", "azure-endpoint", "azure-sas-token",
		"log-level",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig(cfg *paird.Config) {
	cfg.Listen = viper.GetString("listen")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.Store = viper.GetString("store")
	cfg.Archives = viper.GetStringSlice("archive")
	cfg.SessionPrefix = viper.GetString("session-prefix")
	cfg.SettleDelay = viper.GetDuration("settle-delay")
	cfg.ReconnectBaseDelay = viper.GetDuration("reconnect-base-delay")
	cfg.ReconnectMaxDelay = viper.GetDuration("reconnect-max-delay")
	cfg.ReconnectMaxAttempts = viper.GetInt("reconnect-max-attempts")
	cfg.AWSRegion = viper.GetString("aws-region")
	cfg.AzureAccount = viper.GetString("azure-account")
	cfg.AzureAccountKey = viper.GetString("azure-key")
	cfg.AzureEndpoint = viper.GetString("azure-endpoint")
	cfg.AzureSASToken = viper.GetString("azure-sas-token")
}
