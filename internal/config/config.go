// Package config binds each binary's cobra flags into a viper instance so
// every setting can also be supplied via QUORUMKV_-prefixed environment
// variables, the way the sibling MAIA workshop repo layers its config.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "QUORUMKV"

// New returns a viper instance pre-wired for environment overrides and bound
// to fs, so a flag's zero value falls back to QUORUMKV_<FLAG_NAME> and then
// to the flag's own default.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

// NodeConfig is the resolved configuration for a node process.
type NodeConfig struct {
	NodeID       string
	Role         string // "leader" or "follower"
	Port         int
	RegistryURL  string
	ReplicaDelay time.Duration // 0 for leader; 500ms sync / 5s async for followers
	LoadFactor   int
	Workers      int
}

// CoordinatorConfig is the resolved configuration for the coordinator process.
type CoordinatorConfig struct {
	Followers   int
	WriteQuorum int
	ReadQuorum  int
	RegistryURL string
}

// GatewayConfig is the resolved configuration for the gateway process.
type GatewayConfig struct {
	Port             int
	CoordinatorURL   string
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
	LoadBalance      string
}

// RegistryConfig is the resolved configuration for the registry process.
type RegistryConfig struct {
	Port           int
	AutoSpawn      bool
	SpawnDelay     time.Duration
	PruneThreshold time.Duration
	CoordinatorURL string
}
