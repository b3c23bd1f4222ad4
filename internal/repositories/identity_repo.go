package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type identityFile struct {
	InstallID     string    `yaml:"install_id"`
	CurrentUserID string    `yaml:"current_user_id,omitempty"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// FileIdentityRepository persists the install id and the signed-in identity in a YAML
// file, so that a background invocation after a process restart can still resolve
// which identity to publish under.
type FileIdentityRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileIdentityRepository(path string) *FileIdentityRepository {
	return &FileIdentityRepository{path: path}
}

// InstallID returns the stable id of this install, creating it on first use.
func (r *FileIdentityRepository) InstallID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return "", err
	}
	if state.InstallID != "" {
		return state.InstallID, nil
	}
	state.InstallID = uuid.New().String()
	if err := r.store(state); err != nil {
		return "", err
	}
	return state.InstallID, nil
}

func (r *FileIdentityRepository) SaveCurrentUser(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return err
	}
	if state.InstallID == "" {
		state.InstallID = uuid.New().String()
	}
	state.CurrentUserID = userID
	return r.store(state)
}

// CurrentUser reads the file on every call; nothing is cached in memory.
func (r *FileIdentityRepository) CurrentUser(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return "", err
	}
	if state.CurrentUserID == "" {
		return "", ErrNotFound
	}
	return state.CurrentUserID, nil
}

func (r *FileIdentityRepository) ClearCurrentUser(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load()
	if err != nil {
		return err
	}
	if state.CurrentUserID == "" {
		return nil
	}
	state.CurrentUserID = ""
	return r.store(state)
}

func (r *FileIdentityRepository) load() (*identityFile, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return &identityFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	var state identityFile
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	return &state, nil
}

// store writes through a temp file and rename so a crash never leaves a torn file.
func (r *FileIdentityRepository) store(state *identityFile) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal identity file: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("failed to create identity temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync identity file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close identity file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace identity file: %w", err)
	}
	return nil
}
