// Package continuation carries an installation across a machine restart.
package continuation

import (
	"bufio"
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TokenVersion is the current token format
const TokenVersion = 1

// Token is the minimal state handed from the installer to the resume process
type Token struct {
	Version    int       `yaml:"version"`
	DeviceName string    `yaml:"deviceName"`
	ParamsFile string    `yaml:"paramsFile,omitempty"`
	CreatedAt  time.Time `yaml:"createdAt"`
}

// NewToken creates a token for deviceName
func NewToken(deviceName, paramsFile string) Token {
	return Token{
		Version:    TokenVersion,
		DeviceName: deviceName,
		ParamsFile: paramsFile,
		CreatedAt:  time.Now().UTC(),
	}
}

// ParseToken decodes a token. Plain text is accepted with the device name on the first line.
// A YAML mapping with any token key is a typed token and must carry a device name.
func ParseToken(data []byte) (*Token, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err == nil && isTypedToken(&doc) {
		var tok Token
		if err := doc.Decode(&tok); err != nil {
			return nil, errors.Wrap(err, "failed to decode token")
		}
		if strings.TrimSpace(tok.DeviceName) == "" {
			return nil, errors.New("token has no deviceName")
		}
		return &tok, nil
	}

	name, err := FirstLine(data)
	if err != nil {
		return nil, err
	}
	return &Token{Version: 0, DeviceName: name}, nil
}

var tokenKeys = map[string]bool{"version": true, "deviceName": true, "paramsFile": true, "createdAt": true}

func isTypedToken(doc *yaml.Node) bool {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return false
	}
	m := doc.Content[0].Content
	for i := 0; i+1 < len(m); i += 2 {
		if tokenKeys[m[i].Value] {
			return true
		}
	}
	return false
}

// FirstLine returns the first line of data with surrounding whitespace removed
func FirstLine(data []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", errors.Wrap(err, "failed to read token")
		}
		return "", errors.New("token is empty")
	}
	return strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff")), nil
}

// TokenStore persists the token at a fixed path
type TokenStore struct {
	Path string
}

// NewTokenStore creates a store at path
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{Path: path}
}

// Save writes tok atomically, replacing any previous token
func (s *TokenStore) Save(tok Token) error {
	data, err := yaml.Marshal(&tok)
	if err != nil {
		return errors.Wrap(err, "failed to encode token")
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return errors.Wrap(err, "failed to create token directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".continuation-*")
	if err != nil {
		return errors.Wrap(err, "failed to create token file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write token")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to flush token")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close token")
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return errors.Wrap(err, "failed to move token into place")
	}

	slog.Info("continuation_token_saved", "path", s.Path, "device_name", tok.DeviceName)
	return nil
}

// Load reads the token
func (s *TokenStore) Load() (*Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token")
	}
	return ParseToken(data)
}

// Delete removes the token. A missing token is not an error.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove token")
	}
	slog.Info("continuation_token_removed", "path", s.Path)
	return nil
}

// Exists reports whether a token is present
func (s *TokenStore) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Locate returns wellKnown if it exists, otherwise arg if that exists
func Locate(wellKnown, arg string) (string, error) {
	if wellKnown != "" {
		if _, err := os.Stat(wellKnown); err == nil {
			return wellKnown, nil
		}
	}
	if arg != "" {
		slog.Info("continuation_token_from_argument", "path", arg)
		if _, err := os.Stat(arg); err == nil {
			return arg, nil
		}
	}
	return "", errors.Precondition("continuation_token",
		errors.New("no continuation token at "+wellKnown+" or "+arg))
}
