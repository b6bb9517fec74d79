package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "pkgraph"

	// KeyringGraphPasswordItem is the key for the graph database password
	KeyringGraphPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in the OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveGraphPassword stores the graph database password in the OS keychain
func (km *KeyringManager) SaveGraphPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringGraphPasswordItem, password); err != nil {
		km.logger.Error("failed to save password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("graph password saved to keychain", "service", KeyringService)
	return nil
}

// GetGraphPassword retrieves the graph database password from the keychain.
// An unset credential is not an error.
func (km *KeyringManager) GetGraphPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringGraphPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get password from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return password, nil
}

// DeleteGraphPassword removes the stored password from the keychain
func (km *KeyringManager) DeleteGraphPassword() error {
	err := keyring.Delete(KeyringService, KeyringGraphPasswordItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete password from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// IsAvailable checks if the OS keychain is usable. Returns false on
// headless systems (CI) without a secret service.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// MaskSecret masks a credential for display, keeping only the edges.
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:4], secret[len(secret)-4:])
}
