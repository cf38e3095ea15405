package capture

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for page image storage operations
type Storage interface {
	// Save saves a page image and returns its reference
	Save(name string, data []byte) (string, error)

	// Get retrieves a page image by reference
	Get(ref string) ([]byte, error)

	// Delete removes a page image
	Delete(ref string) error
}

// LocalStorage implements the Storage interface using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save saves a page image to local storage
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing page image: %w", err)
	}
	return name, nil
}

// Get retrieves a page image from local storage
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	fullPath := filepath.Join(l.basePath, ref)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading page image: %w", err)
	}
	return data, nil
}

// Delete removes a page image from local storage
func (l *LocalStorage) Delete(ref string) error {
	fullPath := filepath.Join(l.basePath, ref)
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting page image: %w", err)
	}
	return nil
}
