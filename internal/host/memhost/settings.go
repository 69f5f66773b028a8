package memhost

import (
	"encoding/json"
	"fmt"
	"sync"

	"nightwatch/engine/internal/host"
)

// memSettings keeps JSON-encoded values per scope, mirroring the contract the
// sqlite-backed store implements for real deployments.
type memSettings struct {
	mu     sync.Mutex
	scopes map[string]map[string][]byte
}

func newSettings(*Runtime) *memSettings {
	return &memSettings{scopes: make(map[string]map[string][]byte)}
}

func (s *memSettings) Get(scope host.SettingsScope, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.scopes[string(scope)]
	if !ok {
		return false, nil
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode setting %s/%s: %w", scope, key, err)
	}
	return true, nil
}

func (s *memSettings) Set(scope host.SettingsScope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s/%s: %w", scope, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.scopes[string(scope)]
	if !ok {
		values = make(map[string][]byte)
		s.scopes[string(scope)] = values
	}
	values[key] = raw
	return nil
}

func (s *memSettings) Delete(scope host.SettingsScope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if values, ok := s.scopes[string(scope)]; ok {
		delete(values, key)
	}
	return nil
}
