package nuheat

import (
	"encoding/json"
	"errors"
	"os"

	"golang.org/x/oauth2"
)

var _ TokenStore = &FileStore{}

// FileStore persists the token record as a JSON file.
type FileStore struct {
	Path string
}

func (f *FileStore) Load() (*oauth2.Token, error) {
	body, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var token oauth2.Token
	if err = json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (f *FileStore) Save(token *oauth2.Token) error {
	body, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, body, 0o600)
}

func (f *FileStore) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}
