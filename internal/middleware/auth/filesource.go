package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kestrelhq/mallard/internal/exchange"
)

// credentialsFile is the on-disk shape a FileSource and ParseToken parse: a
// JSON object with an access value and an optional refresh value.
type credentialsFile struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func parseCredentialsFile(data []byte) (StaticToken, error) {
	var parsed credentialsFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return StaticToken{}, fmt.Errorf("auth: parse credentials file: %w", err)
	}
	return StaticToken{Access: parsed.Access, Refresh: parsed.Refresh}, nil
}

// FileSource is a Source that rereads a credentials file from disk on every
// refresh, modelling a sidecar process that rotates the file's contents
// out-of-band. It never fails the refresh for an unreadable or malformed
// file; it instead reports absence so the caller treats it as
// session-expired.
type FileSource struct {
	path string
}

// NewFileSource builds a FileSource reading from path.
func NewFileSource(path string) FileSource {
	return FileSource{path: path}
}

// Refresh implements Source.
func (f FileSource) Refresh(_ context.Context, _ *exchange.Request, _ Token) (Token, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, nil
	}
	token, err := parseCredentialsFile(data)
	if err != nil {
		return nil, nil
	}
	if _, ok := token.AccessToken(); !ok {
		return nil, nil
	}
	return token, nil
}

// ReadInitialToken reads and parses path once, for seeding a
// ReferenceProvider before a watcher or the first refresh has run.
func ReadInitialToken(path string) (Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read credentials file: %w", err)
	}
	return ParseToken(data)
}

// ParseToken parses the JSON credentials shape a FileSource and a
// credentials-file watcher both expect: {"access": "...", "refresh": "..."}.
func ParseToken(data []byte) (Token, error) {
	return parseCredentialsFile(data)
}
