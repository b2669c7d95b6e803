package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// ServicesConfig is the desired-state file a CLI embedder loads to
// provision IPVS virtual services/destinations and VRRP virtual routers at
// startup. Its path is independent of Config's search path: the embedder
// passes it explicitly (--services), matching how the core treats VRID
// configuration as library input rather than a YAML schema element.
type ServicesConfig struct {
	Services       []ServiceSpec       `yaml:"services"`
	VirtualRouters []VirtualRouterSpec `yaml:"virtual_routers"`
}

// ServiceSpec describes one IPVS virtual service and its destinations.
type ServiceSpec struct {
	Address      string            `yaml:"address"`
	Protocol     string            `yaml:"protocol"`
	Port         uint16            `yaml:"port"`
	FWMark       uint32            `yaml:"fwmark"`
	Scheduler    string            `yaml:"scheduler"`
	Destinations []DestinationSpec `yaml:"destinations"`
}

// DestinationSpec describes one real server backing a ServiceSpec.
type DestinationSpec struct {
	Address   string `yaml:"address"`
	Port      uint16 `yaml:"port"`
	Weight    int32  `yaml:"weight"`
	Forwarder string `yaml:"forwarder"`
}

// VirtualRouterSpec describes one VRRP VRID instance.
type VirtualRouterSpec struct {
	VRID             uint8    `yaml:"vrid"`
	Interface        string   `yaml:"interface"`
	PrimaryAddress   string   `yaml:"primary_address"`
	VirtualAddresses []string `yaml:"virtual_addresses"`
	Priority         uint8    `yaml:"priority"`
	AdvertInterval   uint16   `yaml:"advert_interval"`
	Preempt          bool     `yaml:"preempt"`
}

// LoadServices reads and parses a ServicesConfig file. Unlike Config, there
// is no search path or default: absence of the named file is an error, since
// the caller asked for it explicitly.
func LoadServices(path string) (*ServicesConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open services file %q: %w", path, err)
	}
	defer f.Close()

	cfg := new(ServicesConfig)
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode services file %q: %w", path, err)
	}
	return cfg, nil
}

// ParseIP parses an address field, returning an error that names the field.
func ParseIP(field, s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("config: %s: invalid IP address %q", field, s)
	}
	return ip, nil
}
