package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// fileDocument is the on-disk layout: one key/value map per namespace, so
// several clients can share a credential file.
type fileDocument struct {
	Sessions map[string]map[string]string `json:"sessions"`
}

// FileMedium stores values in a JSON file under a namespace (usually the
// client ID). Writes are atomic and serialized across processes.
type FileMedium struct {
	path      string
	namespace string
	log       zerolog.Logger
}

// NewFileMedium returns a medium writing to path under namespace.
func NewFileMedium(path, namespace string, log zerolog.Logger) (*FileMedium, error) {
	if path == "" {
		return nil, errors.New("credential file path cannot be empty")
	}
	if namespace == "" {
		return nil, errors.New("credential namespace cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create credential directory: %w", err)
		}
	}
	return &FileMedium{path: path, namespace: namespace, log: log}, nil
}

// Path returns the credential file location.
func (f *FileMedium) Path() string {
	return f.path
}

func (f *FileMedium) Get(_ context.Context, key string) (string, error) {
	doc, err := f.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	v, ok := doc.Sessions[f.namespace][key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (f *FileMedium) Set(_ context.Context, key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

// SetMany writes every value under one lock and one rename.
func (f *FileMedium) SetMany(_ context.Context, values map[string]string) error {
	return f.update(func(current map[string]string) {
		for k, v := range values {
			current[k] = v
		}
	})
}

func (f *FileMedium) Remove(_ context.Context, key string) error {
	return f.update(func(values map[string]string) {
		delete(values, key)
	})
}

func (f *FileMedium) load() (*fileDocument, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return &doc, nil
}

// update applies mutate to this namespace while holding the file lock,
// preserving every other namespace in the file.
func (f *FileMedium) update(mutate func(map[string]string)) error {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("%w: failed to acquire lock: %v", ErrStorageUnavailable, err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			f.log.Warn().Err(releaseErr).Str("path", f.path).Msg("failed to release lock")
		}
	}()

	// Read inside the lock so concurrent writers never drop each other's keys.
	var doc fileDocument
	if existing, err := os.ReadFile(f.path); err == nil {
		if unmarshalErr := json.Unmarshal(existing, &doc); unmarshalErr != nil {
			f.log.Warn().Err(unmarshalErr).Str("path", f.path).Msg("credential file unreadable, starting fresh")
			doc = fileDocument{}
		}
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]map[string]string)
	}
	values := doc.Sessions[f.namespace]
	if values == nil {
		values = make(map[string]string)
	}
	mutate(values)
	if len(values) == 0 {
		delete(doc.Sessions, f.namespace)
	} else {
		doc.Sessions[f.namespace] = values
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("%w: failed to write temp file: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"%w: failed to rename temp file: %v; additionally failed to remove temp file: %v",
				ErrStorageUnavailable,
				err,
				removeErr,
			)
		}
		return fmt.Errorf("%w: failed to rename temp file: %v", ErrStorageUnavailable, err)
	}
	return nil
}
