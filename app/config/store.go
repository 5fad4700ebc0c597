package config

import (
	"fmt"
	"sort"
	"sync"
)

// Store holds loaded channel configurations for concurrent read access
// by the workers and the API.
type Store struct {
	cache map[string]*ChannelConfig
	mu    sync.RWMutex
}

func NewStore(configs map[string]*ChannelConfig) *Store {
	if configs == nil {
		configs = make(map[string]*ChannelConfig)
	}
	return &Store{cache: configs}
}

func (s *Store) GetConfig(name string) (*ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config, ok := s.cache[name]
	if !ok {
		return nil, fmt.Errorf("channel config with name '%s' not found", name)
	}
	return config, nil
}

func (s *Store) GetConfigs() []*ChannelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]*ChannelConfig, 0, len(s.cache))
	for _, config := range s.cache {
		configs = append(configs, config)
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Name < configs[j].Name
	})
	return configs
}
