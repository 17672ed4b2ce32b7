package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxPoolsPerMiner is the number of pool slots a miner exposes
const MaxPoolsPerMiner = 3

// PoolSlot is one configured pool on a miner
type PoolSlot struct {
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Recipient overrides the address derived from User
	Recipient string `yaml:"recipient,omitempty"`
}

// Miner is a device whose pool slots are verified
type Miner struct {
	Name  string     `yaml:"name"`
	Host  string     `yaml:"host"`
	Pools []PoolSlot `yaml:"pools"`
}

// Inventory is the contents of the inventory file
type Inventory struct {
	Miners []Miner `yaml:"miners"`
}

// LoadInventory reads and validates a YAML inventory
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory decodes and validates inventory YAML
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	if err := inv.validate(); err != nil {
		return nil, fmt.Errorf("inventory validation failed: %w", err)
	}
	return &inv, nil
}

func (inv *Inventory) validate() error {
	seen := make(map[string]bool, len(inv.Miners))
	for i, m := range inv.Miners {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("miner %d has no name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate miner name %q", name)
		}
		seen[name] = true

		if len(m.Pools) == 0 || len(m.Pools) > MaxPoolsPerMiner {
			return fmt.Errorf("miner %q must have 1 to %d pools, has %d", name, MaxPoolsPerMiner, len(m.Pools))
		}
		for slot, p := range m.Pools {
			if strings.TrimSpace(p.URL) == "" {
				return fmt.Errorf("miner %q pool %d has no url", name, slot+1)
			}
			if p.Port < 0 || p.Port > 65535 {
				return fmt.Errorf("miner %q pool %d port out of range", name, slot+1)
			}
		}
	}
	return nil
}

// SlotCount is the number of pool slots across all miners
func (inv *Inventory) SlotCount() int {
	n := 0
	for _, m := range inv.Miners {
		n += len(m.Pools)
	}
	return n
}
