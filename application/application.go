package application

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/blang/semver/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/auth"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/server"
	zlog "github.com/lk2023060901/hermes-chat-go/pkg/log"
	"github.com/lk2023060901/hermes-chat-go/pkg/metrics"
	zviper "github.com/lk2023060901/hermes-chat-go/pkg/util/viper"
)

// supportedConfigVersion is the config schema version this binary understands.
// Only the major version is checked: a config written for a different major
// is rejected at startup.
var supportedConfigVersion = semver.MustParse("1.0.0")

// Application is the main runtime container for the Hermes chat service.
// It owns configuration, logging and the server lifecycle.
type Application struct {
	cfg     *zviper.Config
	loggers map[string]*zlog.MLogger
	srv     *server.Server
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run is the entry of the Hermes application.
// It parses command-line arguments (os.Args), loads configuration, builds
// the chat server and blocks until shutdown. Configuration file resolution
// priority:
//  1. Default: ./config.yaml (missing file is tolerated; defaults apply)
//  2. Env: HERMES_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
func (a *Application) Run() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.validateConfigVersion(); err != nil {
		return err
	}

	if err := a.initLogging(); err != nil {
		return err
	}

	store, err := a.loadCredentials()
	if err != nil {
		return err
	}

	srv, err := server.New(a.serverConfig(), store)
	if err != nil {
		return err
	}
	// 配置中为 "server" 定义了模块级日志时，服务端走独立的输出。
	srv.SetLogger(a.Logger("server"))
	a.srv = srv

	return a.serve()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// serve runs the accept loop, the heartbeat sweeper and the optional
// metrics endpoint until a termination signal arrives or any of them
// fails.
func (a *Application) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.srv.Serve(ctx)
	})
	group.Go(func() error {
		return a.srv.SweepLoop(ctx)
	})

	var metricsSrv *http.Server
	if addr := a.cfg.GetString("metrics.addr"); addr != "" {
		registry := prometheus.NewRegistry()
		metrics.RegisterChatMetrics(registry)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: addr, Handler: mux}

		group.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	// Tear everything down once the context is cancelled, either by a
	// signal or by a failing component.
	group.Go(func() error {
		<-ctx.Done()
		a.srv.Shutdown()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := group.Wait()
	_ = zlog.Sync()
	return err
}

// serverConfig builds the server configuration from the loaded config file.
// Unset keys fall back to the server package defaults.
func (a *Application) serverConfig() server.Config {
	return server.Config{
		Addr:             a.cfg.GetString("server.addr"),
		CredentialFile:   a.cfg.GetString("server.credential_file"),
		HandshakeTimeout: a.cfg.GetDuration("server.handshake_timeout"),
		InboundQueueSize: a.cfg.GetInt("server.inbound_queue_size"),
		MaxSessions:      a.cfg.GetInt("server.max_sessions"),
		HeartbeatTimeout: a.cfg.GetDuration("server.heartbeat_timeout"),
		SweepInterval:    a.cfg.GetDuration("server.sweep_interval"),
	}
}

// loadCredentials loads the credential store named by the configuration.
func (a *Application) loadCredentials() (*auth.Store, error) {
	path := a.cfg.GetString("server.credential_file")
	if path == "" {
		path = "users.txt"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zlog.Warn("credential file not found, starting with empty store",
			zap.String("path", path))
		return auth.NewStore(nil), nil
	}
	store, err := auth.LoadStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential file %q: %w", path, err)
	}
	return store, nil
}

// loadConfig resolves config file path and loads it via viper wrapper.
// A missing file at the default path is not an error; explicitly named
// files must exist.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := "./config.yaml"
	explicit := false

	if envPath := os.Getenv("HERMES_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
		explicit = true
	}

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			val := strings.TrimPrefix(arg, "--config=")
			if val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
	}

	cfg := zviper.New()
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load config file %q: %w", configPath, err)
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", configPath, err)
	}

	return cfg, nil
}

// validateConfigVersion rejects config files written for a different
// major schema version. A missing version key is accepted.
func (a *Application) validateConfigVersion() error {
	raw := a.cfg.GetString("version")
	if raw == "" {
		return nil
	}
	ver, err := semver.ParseTolerant(raw)
	if err != nil {
		return fmt.Errorf("invalid config version %q: %w", raw, err)
	}
	if ver.Major != supportedConfigVersion.Major {
		return fmt.Errorf("unsupported config version %s, expected %d.x", ver, supportedConfigVersion.Major)
	}
	return nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on HERMES_LOG_* env vars.
//
// Priority:
//   - HERMES_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - HERMES_LOG_LEVEL: log level (default "info").
//   - HERMES_LOG_STDOUT: whether to log to stdout (default false).
//   - HERMES_LOG_FILE_DIR: log directory.
//   - HERMES_LOG_FILE: log file name (empty means no file).
//   - HERMES_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("HERMES_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:               getenvDefault("HERMES_LOG_LEVEL", "info"),
		Format:              getenvDefault("HERMES_LOG_FORMAT", "text"),
		DisableTimestamp:    false,
		Stdout:              getenvBool("HERMES_LOG_STDOUT", false),
		DisableCaller:       false,
		DisableStacktrace:   false,
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("HERMES_LOG_FILE_DIR", ""),
			Filename: getenvDefault("HERMES_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  chat:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: chat.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	// Unmarshal "logging" section into a map[name]Config.
	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		// If the key doesn't exist, UnmarshalKey typically leaves raw empty without error.
		// Any real error should be returned.
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}

	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
