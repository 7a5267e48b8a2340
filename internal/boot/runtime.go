// Package boot provides runtime configuration derived from config plus environment overrides.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
)

// RuntimeConfig holds parsed runtime settings (JWT, server address, timing knobs).
// Values may be overridden by environment variables (e.g. HTTP_ADDR).
type RuntimeConfig struct {
	JwtSecret     string
	JwtExpiresIn  time.Duration
	ServerAddr    string
	DedupWindow   time.Duration
	ReleaseGrace  time.Duration
	EvictionGrace time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}

	dedupWindow, err := time.ParseDuration(cfg.Orchestrator.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid dedup window: %w", err)
	}
	releaseGrace, err := time.ParseDuration(cfg.Orchestrator.ReleaseGrace)
	if err != nil {
		return nil, fmt.Errorf("invalid release grace: %w", err)
	}
	evictionGrace, err := time.ParseDuration(cfg.Orchestrator.EvictionGrace)
	if err != nil {
		return nil, fmt.Errorf("invalid eviction grace: %w", err)
	}

	ret := &RuntimeConfig{
		JwtSecret:     cfg.Auth.JWTSecret,
		JwtExpiresIn:  jwtExpiresIn,
		ServerAddr:    cfg.Server.Addr,
		DedupWindow:   dedupWindow,
		ReleaseGrace:  releaseGrace,
		EvictionGrace: evictionGrace,
		MaxRetries:    cfg.Orchestrator.MaxRetries,
		RetryDelay:    time.Duration(cfg.Orchestrator.RetryDelayMS) * time.Millisecond,
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}

	return ret, nil
}
