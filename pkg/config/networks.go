package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Network describes one chain the engine can trade on: node endpoints plus
// the DEX contract set.
type Network struct {
	Name          string            `yaml:"name"`
	ChainID       uint64            `yaml:"chain_id"`
	RPCURL        string            `yaml:"rpc_url"`
	WSSURL        string            `yaml:"wss_url"`
	NativeTicker  string            `yaml:"native_ticker"`
	WrappedNative string            `yaml:"wrapped_native"`
	Router        string            `yaml:"router"`
	Quoter        string            `yaml:"quoter"`
	FactoryV2     string            `yaml:"factory_v2"`
	FactoryV3     string            `yaml:"factory_v3"`
	PublicRPCs    []string          `yaml:"public_rpcs"`  // fallback endpoints
	QuoteTokens   map[string]string `yaml:"quote_tokens"` // symbol -> address
}

// Networks is the full bundle keyed by network id (e.g. "base", "bsc").
type Networks map[string]Network

// LoadNetworks parses the networks bundle from a YAML file.
func LoadNetworks(path string) (Networks, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}

	var wrapper struct {
		Networks Networks `yaml:"networks"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("parse networks file: %w", err)
	}
	if len(wrapper.Networks) == 0 {
		return nil, fmt.Errorf("networks file %s defines no networks", path)
	}

	for id, n := range wrapper.Networks {
		if err := n.validate(); err != nil {
			return nil, fmt.Errorf("network %s: %w", id, err)
		}
	}
	return wrapper.Networks, nil
}

// Get returns the network for id, matching case-insensitively.
func (ns Networks) Get(id string) (Network, bool) {
	if n, ok := ns[id]; ok {
		return n, true
	}
	for k, n := range ns {
		if strings.EqualFold(k, id) {
			return n, true
		}
	}
	return Network{}, false
}

// IDs lists the configured network ids.
func (ns Networks) IDs() []string {
	out := make([]string, 0, len(ns))
	for id := range ns {
		out = append(out, id)
	}
	return out
}

func (n Network) validate() error {
	if n.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if n.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if n.WrappedNative == "" {
		return fmt.Errorf("wrapped_native is required")
	}
	if n.Router == "" {
		return fmt.Errorf("router is required")
	}
	return nil
}
