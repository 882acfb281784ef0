package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name for keyring storage
	KeyringService = "panelwatch"
	// keyringAccount is the keyring user under which the account credentials live
	keyringAccount = "google-account"
)

// ErrNoCredentials means nothing is stored in the keyring
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials for the scripted login path. Both fields are optional; an empty
// value skips the corresponding form step.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HasEmail reports whether the email step can be filled
func (c *Credentials) HasEmail() bool {
	return c != nil && c.Email != ""
}

// HasPassword reports whether the password step can be filled
func (c *Credentials) HasPassword() bool {
	return c != nil && c.Password != ""
}

// String never prints the password
func (c *Credentials) String() string {
	if c == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s (password set: %t)", c.Email, c.Password != "")
}

// CredentialStore keeps account credentials in the OS keyring
type CredentialStore struct {
	service string
}

// NewCredentialStore creates a CredentialStore using KeyringService
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{service: KeyringService}
}

// Get returns the stored credentials or ErrNoCredentials
func (s *CredentialStore) Get() (*Credentials, error) {
	data, err := keyring.Get(s.service, keyringAccount)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("failed to load from keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("failed to deserialize credentials: %w", err)
	}
	return &creds, nil
}

// Set stores credentials, replacing any previous value
func (s *CredentialStore) Set(creds Credentials) error {
	if creds.Email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	if err := keyring.Set(s.service, keyringAccount, string(data)); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return nil
}

// Delete removes stored credentials. Deleting nothing is not an error.
func (s *CredentialStore) Delete() error {
	if err := keyring.Delete(s.service, keyringAccount); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
