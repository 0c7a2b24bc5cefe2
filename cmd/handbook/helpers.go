package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	handbook "github.com/handbook-social/handbook/sdk/golang"
)

var errNoToken = errors.New("no session token, run 'handbook init <token>' or set " + envToken)

// session returns the session of the configured token.
func session(cfg *Config) (*handbook.Session, error) {
	if cfg.Auth.Token == "" {
		return nil, errNoToken
	}
	sess, err := handbook.ParseSession(cfg.Auth.Token)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, fmt.Errorf("session token expired at %s, run 'handbook init <token>'", sess.ExpiresAt.Format(time.RFC3339))
	}
	return sess, nil
}

// newClient creates a client for the configured backend and token.
func newClient(cfg *Config, logger *slog.Logger) *handbook.Client {
	opts := []handbook.ClientOption{handbook.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, handbook.WithBaseURL(cfg.Default.BaseURL))
	}
	return handbook.NewClient(cfg.Auth.Token, opts...)
}

// newLogger writes to stderr: warnings by default, everything with --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 16 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
