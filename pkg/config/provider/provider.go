// Copyright 2025 Kadir Pekel
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

// Package provider abstracts where querydesk configuration comes from.
//
// A provider returns raw YAML or JSON bytes and, optionally, signals when
// they change. Parsing and validation belong to the config package.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type identifies a config source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a CLI/env string to a Type. Empty means file.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	default:
		return "", fmt.Errorf("unknown config source %q (valid: file, consul, etcd, zookeeper)", s)
	}
}

// Provider is a config source. Implementations are safe for concurrent use.
type Provider interface {
	Type() Type

	// Load returns the current raw config bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the source
	// changes. The channel is closed when ctx is cancelled or the source
	// stops. A nil channel means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// Options selects and configures a provider.
type Options struct {
	Type Type

	// Path is a file path for the file source, or a key/znode path for the
	// remote sources.
	Path string

	// Endpoints of the remote source cluster.
	Endpoints []string

	// DialTimeout bounds connecting to a remote source. Defaults to 10s.
	DialTimeout time.Duration
}

// New creates the provider described by opts.
func New(opts Options) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts)
	case TypeEtcd:
		return NewEtcdProvider(opts)
	case TypeZookeeper:
		return NewZookeeperProvider(opts)
	default:
		return nil, fmt.Errorf("unknown config source %q", opts.Type)
	}
}

// notify performs a non-blocking send; a pending signal already covers
// the change.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
