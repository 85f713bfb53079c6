// Package keyringcreds resolves registry credentials from the OS keyring,
// with environment variables as a fallback for CI environments that have no
// keyring daemon.
package keyringcreds

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const service = "argo-sentry"

// Adapter implements ports.CredentialProvider.
type Adapter struct {
	logger *slog.Logger
}

// New creates a keyring-backed credential provider.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Adapter{logger: logger}
}

// Resolve looks up credentials for a registry URL. The keyring entry is
// keyed by registry host, storing "username:password". Missing entries fall
// back to REGISTRY_USERNAME/REGISTRY_PASSWORD; empty credentials mean
// anonymous access and are not an error.
func (a *Adapter) Resolve(registryURL string) (string, string, error) {
	host := registryHost(registryURL)

	secret, err := keyring.Get(service, host)
	if err == nil {
		if username, password, ok := strings.Cut(secret, ":"); ok {
			return username, password, nil
		}
		a.logger.Warn("malformed keyring entry, expected username:password", "registry", host)
	} else if !errors.Is(err, keyring.ErrNotFound) {
		a.logger.Debug("keyring lookup failed, falling back to environment", "registry", host, "error", err)
	}

	return os.Getenv("REGISTRY_USERNAME"), os.Getenv("REGISTRY_PASSWORD"), nil
}

// Store saves credentials for a registry host in the OS keyring.
func (a *Adapter) Store(registryURL, username, password string) error {
	return keyring.Set(service, registryHost(registryURL), username+":"+password)
}

// registryHost strips the scheme and path from a registry URL.
func registryHost(registryURL string) string {
	host := strings.TrimPrefix(registryURL, "oci://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	return host
}
