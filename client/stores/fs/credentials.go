// Package fs keeps authsdk client credentials in a JSON file readable only by
// the current user.
//
// The file maps normalized server URLs (scheme://host[:port]) to the tokens
// issued by that server:
//
//	{
//	  "version": 1,
//	  "servers": {
//	    "https://auth.example.com": {"access_token": "...", ...}
//	  }
//	}
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/panyam/authsdk/client"
)

const fileVersion = 1

type credentialFile struct {
	Version int                                 `json:"version"`
	Servers map[string]*client.ServerCredential `json:"servers"`
}

// FSCredentialStore is a client.CredentialStore backed by one JSON file.
// Changes stay in memory until Save.
type FSCredentialStore struct {
	path string

	mu    sync.RWMutex
	creds map[string]*client.ServerCredential
	dirty bool
}

// DefaultPath is <user config dir>/<appName>/credentials.json, falling back
// to ~/.config when the platform has no config dir.
func DefaultPath(appName string) (string, error) {
	if appName == "" {
		appName = "authsdk"
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("no config directory: %w", errors.Join(err, herr))
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName, "credentials.json"), nil
}

// NewFSCredentialStore loads path, or DefaultPath(appName) when path is
// empty. A missing file yields an empty store.
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		p, err := DefaultPath(appName)
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &FSCredentialStore{path: path, creds: map[string]*client.ServerCredential{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if file.Version > fileVersion {
		return nil, fmt.Errorf("%s was written by a newer client (version %d)", path, file.Version)
	}
	maps.Copy(s.creds, file.Servers)
	return s, nil
}

// serverKey reduces a server URL to scheme://host[:port], lower-cased and
// without the scheme's default port.
func serverKey(serverURL string) (string, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "https://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[key], nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.creds[key] = cred
	s.dirty = true
	s.mu.Unlock()
	return nil
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[key]; ok {
		delete(s.creds, key)
		s.dirty = true
	}
	return nil
}

// Servers lists the normalized server URLs holding credentials.
func (s *FSCredentialStore) Servers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.creds))
}

// Save writes the file if anything changed since the last load or save.
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	data, err := json.MarshalIndent(credentialFile{Version: fileVersion, Servers: s.creds}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := replaceFile(s.path, data); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// replaceFile writes data to a 0600 temp file beside path and renames it
// into place. The directory is created 0700.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FSCredentialStore) Path() string {
	return s.path
}
