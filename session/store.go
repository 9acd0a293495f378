package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSession reports that no usable persisted session exists. Missing,
// corrupt, and undecryptable sessions are deliberately indistinguishable at
// this boundary; it is not a classified API failure.
var ErrNoSession = errors.New("no usable session")

// DefaultFilePath is where [FileStore] persists the session when the caller
// does not override it.
const DefaultFilePath = ".mm/mm_session.enc"

// Store persists an encoded State across process restarts.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context) error
}

// FileStore keeps the session in a single file, encoded by Codec. Writes are
// atomic (temp file + rename) and owner-only (0600).
type FileStore struct {
	path  string
	codec Codec
}

// NewFileStore returns a file-backed store. An empty path selects
// [DefaultFilePath]; a nil codec selects an [AESCodec] with the default
// passphrase.
func NewFileStore(path string, codec Codec) *FileStore {
	if path == "" {
		path = DefaultFilePath
	}
	if codec == nil {
		codec = NewAESCodec("")
	}
	return &FileStore{path: path, codec: codec}
}

// Path returns the file location in use.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	s, err := f.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	return s, nil
}

func (f *FileStore) Save(_ context.Context, s *State) error {
	data, err := f.codec.Encode(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *FileStore) Delete(_ context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
