package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	appconfig "github.com/pogojam/HomeAssistantVoiceAssistant/internal/config"
	apphttp "github.com/pogojam/HomeAssistantVoiceAssistant/internal/http"
	applogger "github.com/pogojam/HomeAssistantVoiceAssistant/internal/logger"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/ws"
)

// Server assembles the bridge: config, logger, satellite handler and
// the HTTP surface.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	server *http.Server
}

// New loads configuration from configPath (or the default search path
// when empty) and builds a ready-to-run server.
func New(configPath string) (*Server, error) {
	var cfg appconfig.Config
	var err error
	if configPath == "" {
		cfg, err = appconfig.Load()
	} else {
		cfg, err = appconfig.LoadConfig(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := appconfig.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
	)
	logger.Info("config loaded",
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("model", cfg.Model),
		zap.String("voice", cfg.Voice),
		zap.Bool("home_control", cfg.EnableHomeControl),
	)

	wsHandler := ws.NewHandler(logger, cfg)
	router := apphttp.NewRouter(cfg, wsHandler, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: httpServer,
	}, nil
}

// Run serves until Shutdown or a listener error.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	err := listen(s.server, s.cfg, s.logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Logger exposes the server's logger for the entrypoint.
func (s *Server) Logger() *zap.Logger {
	if s == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// listen serves TLS only when both cert and key files exist, plain
// HTTP otherwise.
func listen(server *http.Server, cfg appconfig.Config, logger *zap.Logger) error {
	if !cfg.TLSDisable && cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
		certPath := filepath.Clean(cfg.TLSCertPath)
		keyPath := filepath.Clean(cfg.TLSKeyPath)
		if fileExists(certPath) && fileExists(keyPath) {
			if logger != nil {
				logger.Info("starting https server", zap.String("addr", cfg.HTTPAddr))
			}
			return server.ListenAndServeTLS(certPath, keyPath)
		}
		if logger != nil {
			logger.Warn("tls cert or key missing, falling back to http",
				zap.String("cert", certPath),
				zap.String("key", keyPath),
			)
		}
	}
	if logger != nil {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
	}
	return server.ListenAndServe()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
