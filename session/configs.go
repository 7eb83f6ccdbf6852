package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/detect"
	"github.com/kingzvpn/client/fetch"
	"github.com/kingzvpn/client/history"
	"github.com/kingzvpn/client/store"
)

// ImportFromURL downloads, classifies and stores a configuration.
func (s *Session) ImportFromURL(ctx context.Context, rawURL string) (*store.Config, error) {
	text, err := fetch.FetchText(ctx, rawURL, s.opts.Fetch)
	if err != nil {
		s.notify(LevelError, "Download failed", err)
		return nil, err
	}
	return s.importContent(fetch.NameFromURL(rawURL), text, rawURL)
}

// ImportText classifies and stores pasted configuration text.
func (s *Session) ImportText(name, text string) (*store.Config, error) {
	if strings.TrimSpace(name) == "" {
		name = "pasted"
	}
	return s.importContent(name, common.TruncateChars(text, common.MaxDecodedChars), "")
}

// ImportFile reads, classifies and stores a configuration file.
func (s *Session) ImportFile(path string) (*store.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, common.FetchMaxBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > common.FetchMaxBytes {
		return nil, &common.ValidationError{Field: "file", Reason: fmt.Sprintf("larger than %d bytes", common.FetchMaxBytes)}
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	text := strings.ToValidUTF8(string(data), "")
	return s.importContent(name, common.TruncateChars(text, common.MaxDecodedChars), "")
}

func (s *Session) importContent(name, text, sourceURL string) (*store.Config, error) {
	kind := detect.Detect(text)
	if kind == detect.Unknown {
		err := &common.ValidationError{Field: "content", Reason: "unrecognized configuration format"}
		s.notify(LevelError, "Import failed", err)
		return nil, err
	}

	cfg, err := s.store.Add(store.RawImport{
		Name:       name,
		Protocol:   kind.Tag(),
		RawContent: text,
		SourceURL:  sourceURL,
	})
	if err != nil {
		var dup *common.DuplicateError
		if errors.As(err, &dup) {
			s.notifyMessage(LevelInfo, "Already imported", dup.Error())
		} else {
			s.notify(LevelError, "Import failed", err)
		}
		return nil, err
	}

	s.record(history.KindImport, cfg.ID, fmt.Sprintf("%s (%s)", cfg.Name, cfg.Protocol))
	s.notifyMessage(LevelInfo, "Imported", fmt.Sprintf("%s (%s)", cfg.Name, cfg.Protocol))
	return cfg, nil
}

// ListConfigs returns the stored configurations.
func (s *Session) ListConfigs() []*store.Config {
	return s.store.List()
}

// FindConfig resolves an ID, ID prefix or name.
func (s *Session) FindConfig(ref string) (*store.Config, error) {
	return s.store.Find(ref)
}

// DeleteConfig removes a stored configuration, disconnecting first when it
// is the active one. Its file is left for the retention sweep.
func (s *Session) DeleteConfig(id string) error {
	if active := s.Active(); active != nil && active.ID == id {
		if err := s.Disconnect(); err != nil {
			return err
		}
	}
	if err := s.store.Remove(id); err != nil {
		return err
	}
	if s.opts.Credentials != nil {
		if err := s.opts.Credentials.Delete(id); err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
			common.LogWarn("Failed to delete credentials for %s: %v", common.ShortID(id), err)
		}
	}
	s.record(history.KindDelete, id, "deleted")
	return nil
}

// SetCredentials stores the OpenVPN username and password for a config.
func (s *Session) SetCredentials(id string, creds common.Credentials) error {
	if s.opts.Credentials == nil {
		return common.ErrCredentialStorage
	}
	if _, err := s.store.Get(id); err != nil {
		return err
	}
	return s.opts.Credentials.Store(id, creds)
}
