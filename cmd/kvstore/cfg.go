package main

import (
	"fmt"
	"os"

	"github.com/omkar110401/raftkv/pkg/raft"
	"gopkg.in/yaml.v3"
)

// ClusterFile is the static cluster topology as loaded from a YAML
// file on disk (commonly "cluster.yaml" next to the service config).
// It exists as an alternative to inlining raft.servers in the main
// JSON service configuration, for operators who keep cluster topology
// under separate change control from the rest of the service config.
type ClusterFile struct {
	Servers raft.ServerSet `yaml:"servers"`
}

func LoadClusterFile(path string) (raft.ServerSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var cf ClusterFile

	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("cannot decode yaml data from %s: %w", path, err)
	}

	if len(cf.Servers) == 0 {
		return nil, fmt.Errorf("%s defines no servers", path)
	}

	return cf.Servers, nil
}
