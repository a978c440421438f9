// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the whitebox configuration: where the control plane
// lives, how to reach it, which services may be reconfigured and what the
// hardware under test looks like.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/cpuset"
	"sigs.k8s.io/yaml"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path
	ConfigPathEnvKey = "WHITEBOX_CONFIG_PATH"

	// NovaComputeService is the name of the default nova-compute service group.
	NovaComputeService = "nova-compute"
	NovaLibvirtService = "nova-libvirt"

	RuntimeDocker = "docker"
	RuntimePodman = "podman"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the whole whitebox configuration.
type Config struct {
	Whitebox        WhiteboxConfig           `json:"whitebox"`
	Services        map[string]ServiceConfig `json:"services"`
	Database        DatabaseConfig           `json:"database"`
	Hardware        HardwareConfig           `json:"hardware"`
	Compute         ComputeConfig            `json:"compute"`
	ComputeFeatures FeaturesConfig           `json:"computeFeatures"`
	Logging         LoggingConfig            `json:"logging"`
	Metrics         MetricsConfig            `json:"metrics"`
}

// WhiteboxConfig describes access to the control plane and compute hosts.
type WhiteboxConfig struct {
	// CtlplaneSSHUsername is the user for SSH connections to control plane hosts.
	CtlplaneSSHUsername string `json:"ctlplaneSSHUsername"`
	// CtlplaneSSHPrivateKeyPath is the private key used for those connections.
	CtlplaneSSHPrivateKeyPath string `json:"ctlplaneSSHPrivateKeyPath"`
	CtlplaneSSHPort           int    `json:"ctlplaneSSHPort"`
	// SSHTimeout bounds connection establishment.
	SSHTimeout metav1.Duration `json:"sshTimeout"`

	// Containers is true when the OpenStack services run in containers.
	Containers bool `json:"containers"`
	// ContainerRuntime is either "docker" or "podman".
	ContainerRuntime string `json:"containerRuntime"`
	// LibvirtContainerName runs virsh. APIContainerName runs nova-manage.
	LibvirtContainerName string `json:"libvirtContainerName"`
	APIContainerName     string `json:"apiContainerName"`

	// CtlplaneAddresses maps a hypervisor hostname, as reported by the compute
	// API, to the address used to reach it over SSH.
	CtlplaneAddresses map[string]string `json:"ctlplaneAddresses,omitempty"`
	// Hypervisors maps a hypervisor id to an address overriding the host_ip
	// reported by the compute API.
	Hypervisors map[string]string `json:"hypervisors,omitempty"`
	// TargetController is the control plane hostname nova-manage runs on. It
	// is resolved through CtlplaneAddresses.
	TargetController string `json:"targetController,omitempty"`

	MaxComputeNodes        int    `json:"maxComputeNodes"`
	ProviderConfigLocation string `json:"providerConfigLocation,omitempty"`
	FileBackedMemorySize   int    `json:"fileBackedMemorySize,omitempty"`
	FlavorRAMSize          int    `json:"flavorRAMSize"`
	AvailableCinderStorage int    `json:"availableCinderStorage,omitempty"`

	// RestartGracePeriod is slept after restarting a service.
	RestartGracePeriod metav1.Duration `json:"restartGracePeriod"`
}

// ServiceConfig describes a service whose configuration file may be changed.
type ServiceConfig struct {
	ConfigPath     string `json:"configPath"`
	RestartCommand string `json:"restartCommand"`
	StopCommand    string `json:"stopCommand,omitempty"`
	StartCommand   string `json:"startCommand,omitempty"`
}

// DatabaseConfig describes access to the cell database.
type DatabaseConfig struct {
	// Host is the SSH host in front of the database. Empty disables database tests.
	Host string `json:"host,omitempty"`
	// InternalIP, when set, is reached through an SSH tunnel opened on Host.
	InternalIP      string `json:"internalIP,omitempty"`
	Port            int    `json:"port"`
	User            string `json:"user,omitempty"`
	Password        string `json:"password,omitempty"`
	NovaCell1DBName string `json:"novaCell1DBName"`
	// SSHGatewayPort is the local port of the tunnel. Zero picks a free one.
	SSHGatewayPort int `json:"sshGatewayPort"`
}

// HardwareConfig describes the hardware of the compute hosts.
type HardwareConfig struct {
	// CPUTopology maps a NUMA node to its CPUs, e.g. {"0": [0,1,2,3], "1": [4,5,6,7]}.
	CPUTopology                 map[string][]int `json:"cpuTopology,omitempty"`
	DedicatedCPUsPerNUMA        int              `json:"dedicatedCPUsPerNUMA,omitempty"`
	SRIOVPhysnet                string           `json:"sriovPhysnet,omitempty"`
	PhysnetNUMAAffinity         *int             `json:"physnetNUMAAffinity,omitempty"`
	PCIPassthroughAlias         string           `json:"pciPassthroughAlias,omitempty"`
	PCIPassthroughAddresses     []string         `json:"pciPassthroughAddresses,omitempty"`
	PCIPassthroughResourceClass string           `json:"pciPassthroughResourceClass,omitempty"`

	// CPUModel is a named CPU model every compute host can run, e.g.
	// Haswell-noTSX. CPUModelExtraFlags are features added on top of it.
	CPUModel           string   `json:"cpuModel,omitempty"`
	CPUModelExtraFlags []string `json:"cpuModelExtraFlags,omitempty"`
}

// ComputeConfig describes access to the compute API.
type ComputeConfig struct {
	AuthURL           string `json:"authURL"`
	Username          string `json:"username"`
	Password          string `json:"password,omitempty"`
	ProjectName       string `json:"projectName,omitempty"`
	UserDomainName    string `json:"userDomainName,omitempty"`
	ProjectDomainName string `json:"projectDomainName,omitempty"`
	Region            string `json:"region,omitempty"`

	ImageRef  string `json:"imageRef,omitempty"`
	FlavorRef string `json:"flavorRef,omitempty"`
	NetworkID string `json:"networkID,omitempty"`

	MinComputeNodes       int    `json:"minComputeNodes"`
	Microversion          string `json:"microversion,omitempty"`
	PlacementMicroversion string `json:"placementMicroversion,omitempty"`

	BuildTimeout  metav1.Duration `json:"buildTimeout"`
	BuildInterval metav1.Duration `json:"buildInterval"`
}

// FeaturesConfig toggles environment dependent scenarios.
type FeaturesConfig struct {
	Resize                    bool `json:"resize"`
	LiveMigration             bool `json:"liveMigration"`
	VolumeBackedLiveMigration bool `json:"volumeBackedLiveMigration"`
	CPUStateManagement        bool `json:"cpuStateManagement"`
}

type LoggingConfig struct {
	Development bool   `json:"development"`
	Level       string `json:"level"`
}

type MetricsConfig struct {
	// TextfilePath, when set, receives the collected metrics on exit.
	TextfilePath string `json:"textfilePath,omitempty"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Whitebox: WhiteboxConfig{
			CtlplaneSSHUsername:       "heat-admin",
			CtlplaneSSHPrivateKeyPath: "/home/stack/.ssh/id_rsa",
			CtlplaneSSHPort:           22,
			SSHTimeout:                metav1.Duration{Duration: 10 * time.Second},
			ContainerRuntime:          RuntimeDocker,
			LibvirtContainerName:      "nova_libvirt",
			APIContainerName:          "nova_api",
			MaxComputeNodes:           31337,
			ProviderConfigLocation:    "/etc/nova/provider_config",
			FlavorRAMSize:             64,
			RestartGracePeriod:        metav1.Duration{Duration: 15 * time.Second},
		},
		Services: map[string]ServiceConfig{
			NovaComputeService: {
				ConfigPath:     "/etc/nova/nova.conf",
				RestartCommand: "systemctl restart openstack-nova-compute",
				StopCommand:    "systemctl stop openstack-nova-compute",
				StartCommand:   "systemctl start openstack-nova-compute",
			},
			NovaLibvirtService: {
				ConfigPath:     "/etc/libvirt/qemu.conf",
				RestartCommand: "systemctl restart libvirtd",
			},
		},
		Database: DatabaseConfig{
			Port:            3306,
			NovaCell1DBName: "nova_cell1",
		},
		Compute: ComputeConfig{
			MinComputeNodes: 1,
			BuildTimeout:    metav1.Duration{Duration: 300 * time.Second},
			BuildInterval:   metav1.Duration{Duration: time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML (or JSON) file path on top of
// the defaults, then applies environment variable overrides and validates
// the result. If configPath is empty, only environment variables are used.
func LoadConfig(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return config, nil
}

// LoadFromEnv loads the file named by ConfigPathEnvKey, if any.
func LoadFromEnv() (*Config, error) {
	return LoadConfig(os.Getenv(ConfigPathEnvKey))
}

func parseBool(val string) bool {
	return val == "true" || val == "1" || val == "yes"
}

// applyEnvironmentOverrides applies environment variable overrides to the config
func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("WHITEBOX_SSH_USERNAME"); val != "" {
		c.Whitebox.CtlplaneSSHUsername = val
	}
	if val := os.Getenv("WHITEBOX_SSH_PRIVATE_KEY_PATH"); val != "" {
		c.Whitebox.CtlplaneSSHPrivateKeyPath = val
	}
	if val := os.Getenv("WHITEBOX_CONTAINERS"); val != "" {
		c.Whitebox.Containers = parseBool(val)
	}
	if val := os.Getenv("WHITEBOX_CONTAINER_RUNTIME"); val != "" {
		c.Whitebox.ContainerRuntime = val
	}
	if val := os.Getenv("WHITEBOX_TARGET_CONTROLLER"); val != "" {
		c.Whitebox.TargetController = val
	}
	if val := os.Getenv("WHITEBOX_DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("WHITEBOX_DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("WHITEBOX_DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("WHITEBOX_OS_AUTH_URL"); val != "" {
		c.Compute.AuthURL = val
	}
	if val := os.Getenv("WHITEBOX_OS_USERNAME"); val != "" {
		c.Compute.Username = val
	}
	if val := os.Getenv("WHITEBOX_OS_PASSWORD"); val != "" {
		c.Compute.Password = val
	}
	if val := os.Getenv("WHITEBOX_OS_PROJECT_NAME"); val != "" {
		c.Compute.ProjectName = val
	}
	if val := os.Getenv("WHITEBOX_OS_REGION"); val != "" {
		c.Compute.Region = val
	}
	if val := os.Getenv("WHITEBOX_MIN_COMPUTE_NODES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Compute.MinComputeNodes = n
		}
	}
	if val := os.Getenv("WHITEBOX_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("WHITEBOX_DEV_MODE"); val != "" {
		c.Logging.Development = parseBool(val)
	}
	if val := os.Getenv("WHITEBOX_METRICS_TEXTFILE"); val != "" {
		c.Metrics.TextfilePath = val
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Whitebox.CtlplaneSSHUsername == "" {
		errs = append(errs, errors.New("whitebox.ctlplaneSSHUsername cannot be empty"))
	}
	if c.Whitebox.CtlplaneSSHPrivateKeyPath == "" {
		errs = append(errs, errors.New("whitebox.ctlplaneSSHPrivateKeyPath cannot be empty"))
	}
	if c.Whitebox.CtlplaneSSHPort <= 0 || c.Whitebox.CtlplaneSSHPort > 65535 {
		errs = append(errs, fmt.Errorf("whitebox.ctlplaneSSHPort %d is out of range", c.Whitebox.CtlplaneSSHPort))
	}
	if c.Whitebox.ContainerRuntime != RuntimeDocker && c.Whitebox.ContainerRuntime != RuntimePodman {
		errs = append(errs, fmt.Errorf("whitebox.containerRuntime must be %q or %q, got %q",
			RuntimeDocker, RuntimePodman, c.Whitebox.ContainerRuntime))
	}
	if c.Whitebox.SSHTimeout.Duration < 0 {
		errs = append(errs, errors.New("whitebox.sshTimeout cannot be negative"))
	}
	if c.Whitebox.RestartGracePeriod.Duration < 0 {
		errs = append(errs, errors.New("whitebox.restartGracePeriod cannot be negative"))
	}

	for _, name := range c.ServiceNames() {
		svc := c.Services[name]
		if svc.ConfigPath == "" {
			errs = append(errs, fmt.Errorf("services.%s.configPath cannot be empty", name))
		}
		if svc.RestartCommand == "" {
			errs = append(errs, fmt.Errorf("services.%s.restartCommand cannot be empty", name))
		}
	}

	if c.Database.Host != "" && c.Database.User == "" {
		errs = append(errs, errors.New("database.user cannot be empty when database.host is set"))
	}
	if c.Database.SSHGatewayPort < 0 || c.Database.SSHGatewayPort > 65535 {
		errs = append(errs, fmt.Errorf("database.sshGatewayPort %d is out of range", c.Database.SSHGatewayPort))
	}

	if _, err := c.CPUTopology(); err != nil {
		errs = append(errs, err)
	}

	if c.Compute.AuthURL == "" {
		errs = append(errs, errors.New("compute.authURL cannot be empty"))
	}
	if c.Compute.Username == "" {
		errs = append(errs, errors.New("compute.username cannot be empty"))
	}
	if c.Compute.BuildTimeout.Duration <= 0 {
		errs = append(errs, errors.New("compute.buildTimeout must be positive"))
	}
	if c.Compute.BuildInterval.Duration <= 0 {
		errs = append(errs, errors.New("compute.buildInterval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ServiceNames returns the configured service names, sorted.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CPUTopology returns the configured NUMA topology keyed by node id.
func (c *Config) CPUTopology() (map[int]cpuset.CPUSet, error) {
	out := make(map[int]cpuset.CPUSet, len(c.Hardware.CPUTopology))
	for node, cpus := range c.Hardware.CPUTopology {
		id, err := strconv.Atoi(node)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("hardware.cpuTopology: invalid NUMA node %q", node)
		}
		out[id] = cpuset.New(cpus...)
	}
	return out, nil
}

// AllCPUs returns every CPU listed in the configured topology.
func (c *Config) AllCPUs() cpuset.CPUSet {
	topology, err := c.CPUTopology()
	if err != nil {
		return cpuset.New()
	}
	all := cpuset.New()
	for _, cpus := range topology {
		all = all.Union(cpus)
	}
	return all
}

// CtlplaneAddress returns the SSH address configured for hostname.
func (c *Config) CtlplaneAddress(hostname string) (string, bool) {
	addr, ok := c.Whitebox.CtlplaneAddresses[hostname]
	return addr, ok
}
