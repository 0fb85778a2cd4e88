package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	linkCodeFilename = "link_codes.json"
	clientFilename   = "clients.json"
)

// JSONStore persists each registry as a JSON array in its own file, the format
// external tooling expects. Files are created empty on first run.
type JSONStore struct {
	linkCodePath string
	clientPath   string
}

func NewJSONStore(dataDir string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory %s: %w", dataDir, err)
	}

	s := &JSONStore{
		linkCodePath: filepath.Join(dataDir, linkCodeFilename),
		clientPath:   filepath.Join(dataDir, clientFilename),
	}
	for _, path := range []string{s.linkCodePath, s.clientPath} {
		if err := createIfMissing(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func createIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte("[]"), 0644); err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	return nil
}

func (s *JSONStore) LoadLinkCodes() ([]LinkCode, error) {
	var codes []LinkCode
	if err := readJSONFile(s.linkCodePath, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *JSONStore) SaveLinkCodes(codes []LinkCode) error {
	if codes == nil {
		codes = []LinkCode{}
	}
	return writeJSONFile(s.linkCodePath, codes)
}

func (s *JSONStore) LoadClients() ([]Client, error) {
	var clients []Client
	if err := readJSONFile(s.clientPath, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *JSONStore) SaveClients(clients []Client) error {
	if clients == nil {
		clients = []Client{}
	}
	return writeJSONFile(s.clientPath, clients)
}

func (s *JSONStore) Close() error { return nil }

func readJSONFile(path string, v interface{}) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	if len(contents) == 0 {
		return nil
	}
	if err := json.Unmarshal(contents, v); err != nil {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	return nil
}

func writeJSONFile(path string, v interface{}) error {
	contents, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error serializing %s: %w", path, err)
	}
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}
