// Package credentials persists provider credentials in the per-user
// config directory with restrictive permissions. It is the only owner of
// the settings file: everything else reads credentials through Load.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/models"
)

const settingsFileName = "settings.json"

// CredentialError is the typed error surfaced by store operations.
// Messages never include filesystem paths; the underlying error is
// available via Unwrap for local diagnostics only.
type CredentialError struct {
	Op  string // "save", "load" or "clear"
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential store %s failed", e.Op)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ErrInvalidInput is returned by Save when a required field is empty.
var ErrInvalidInput = errors.New("accountId, accessKeyId and secretAccessKey are all required")

// Store reads and writes the credentials file. At most one writer is
// active per process; readers always see the last committed value
// because writes go through a temp file and rename.
type Store struct {
	dir      string
	validate *validator.Validate
	mu       sync.Mutex
}

// NewStore creates a store rooted at the default per-user config
// directory (~/.cloudflare-r2-object-storage-browser).
func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, &CredentialError{Op: "load", Err: err}
	}
	return NewStoreAt(filepath.Join(home, constants.ConfigDirName)), nil
}

// NewStoreAt creates a store rooted at an explicit directory. Used by
// tests and by hosts that relocate the config dir.
func NewStoreAt(dir string) *Store {
	return &Store{
		dir:      dir,
		validate: validator.New(),
	}
}

// Path returns the settings file location for diagnostics.
func (s *Store) Path() string {
	return filepath.Join(s.dir, settingsFileName)
}

// Save validates the three inputs, derives the endpoint, stamps
// lastUpdated, and atomically writes the settings file with mode 0600
// inside a 0700 directory.
func (s *Store) Save(accountID, accessKeyID, secretAccessKey string) (*models.Credentials, error) {
	creds := &models.Credentials{
		AccountID:       accountID,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        models.R2Endpoint(accountID),
		LastUpdated:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.validate.Struct(creds); err != nil {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, &CredentialError{Op: "save", Err: err}
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, &CredentialError{Op: "save", Err: err}
	}

	// Temp file + rename so a crash mid-write never leaves a partial
	// settings file visible to readers.
	tmp, err := os.CreateTemp(s.dir, settingsFileName+".tmp-*")
	if err != nil {
		return nil, &CredentialError{Op: "save", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return nil, &CredentialError{Op: "save", Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return nil, &CredentialError{Op: "save", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, &CredentialError{Op: "save", Err: err}
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return nil, &CredentialError{Op: "save", Err: err}
	}

	return creds, nil
}

// Load returns the stored credentials, or (nil, nil) when no file
// exists. A file that fails to parse is logged and treated as absent
// rather than surfaced to callers.
func (s *Store) Load() (*models.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &CredentialError{Op: "load", Err: err}
	}

	var creds models.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Warn().Err(err).Msg("Settings file is unreadable, treating credentials as absent")
		return nil, nil
	}
	if creds.AccountID == "" || creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		log.Warn().Msg("Settings file is incomplete, treating credentials as absent")
		return nil, nil
	}
	if creds.Endpoint == "" {
		creds.Endpoint = models.R2Endpoint(creds.AccountID)
	}
	return &creds, nil
}

// Clear removes the settings file. Deleting credentials that do not
// exist is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return &CredentialError{Op: "clear", Err: err}
	}
	return nil
}
