package core

import (
	"chatrelay/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/transport"
	"chatrelay/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Connect {
		return buildConnect(cfg, logger), nil
	}
	return buildServe(cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (*ServeMode, error) {
	publish, err := buildPublish(cfg)
	if err != nil {
		return nil, err
	}
	return &ServeMode{
		Address:    cfg.Addr(),
		SSH:        cfg.SSH,
		SSHHostKey: cfg.SSHHostKey,
		Publish:    publish,
		Line: transport.LineOptions{
			MaxLineBytes: cfg.MaxLineBytes,
			WriteTimeout: cfg.WriteTimeout,
		},
		MaxSessions: cfg.MaxSessions,
		BindRetries: cfg.BindRetries,
		GracePeriod: cfg.GracePeriod,
		Tuning: Tuning{
			OutboundQueue: cfg.OutboundQueue,
			RateLimit:     cfg.RateLimit,
			RateBurst:     cfg.RateBurst,
		},
		Logger:  logger,
		Metrics: metrics.New(),
	}, nil
}

func buildPublish(cfg *config.Config) (*transport.PublishConfig, error) {
	if cfg.Publish == "" {
		return nil, nil
	}
	gw, err := transport.ParseGateway(cfg.Publish)
	if err != nil {
		return nil, err
	}
	return &transport.PublishConfig{
		Gateway:         gw,
		BindHost:        cfg.Host,
		BindPort:        cfg.Port,
		KeyPath:         cfg.PublishKey,
		UseAgent:        cfg.PublishAgent,
		PromptPassword:  cfg.PublishPassword,
		KnownHosts:      cfg.KnownHosts,
		InsecureHostKey: cfg.InsecureHostKey,
		Timeout:         cfg.Timeout,
		KeepAlive:       cfg.KeepAlive,
		Reconnect:       cfg.Reconnect,
	}, nil
}

func buildConnect(cfg *config.Config, logger *util.Logger) *ConnectMode {
	return &ConnectMode{
		Dialer:  &transport.TCPDialer{Timeout: cfg.Timeout},
		Address: cfg.Addr(),
		Name:    cfg.Name,
		Logger:  logger,
	}
}
