// Package config implements the typed, dot-keyed configuration tree that
// every other package reads its settings from. The open-node shape lets
// unknown keys survive a round trip even though only a fixed set of
// sections are ever read by the core (see SPEC_FULL.md §4.7).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Runtime is the fully assembled configuration for one Host process.
type Runtime struct {
	APIKey       string `yaml:"apikey"`
	GUID         string `yaml:"guid"`
	HostPath     string `yaml:"host.path"`
	ServicePath  string `yaml:"service.path"`
	RootRedirect string `yaml:"root.redirect"`
	EnvDebug     string `yaml:"env.debug"` // on|true|false|debugger-only
	EnvType      string `yaml:"env.type"`  // "test" disables signal watching
	EnvCloud     string `yaml:"env.cloud"` // "local" disables shutdown logging

	ConnectLimit          int      `yaml:"connect-limit"`
	ReentrancyLimit       int      `yaml:"reentrancy-limit"`
	AuthenticationSchemes []string `yaml:"authentication-schemes"`
	MemorizeAliases       bool     `yaml:"memorize-aliases"`
	PublicURI             string   `yaml:"uri.public"`

	Storage  Storage        `yaml:"storage"`
	CORS     CORS           `yaml:"cors"`
	Pubsub   Pubsub         `yaml:"pubsub"`
	Shutdown ShutdownConfig `yaml:"shutdown"`

	// Tree is the same configuration, as an open dot-keyed node (§4.7):
	// it lets a reader reach a key Runtime has no typed field for
	// without losing it on the way in. Nil on a Runtime built directly
	// (e.g. Default()) rather than through Load.
	Tree *Tree `yaml:"-"`
}

// ShutdownConfig bounds how long graceful shutdown (spec §5) waits for
// registered hooks before forcing the process to exit.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Tree is an open, dot-keyed configuration node (§4.7): unknown keys
// survive a round trip through Load even though only the sections
// Runtime names are ever read into a typed field. It wraps a
// viper.Viper scoped to one key prefix; Child descends into a nested
// node the same way viper.Sub does.
type Tree struct {
	v *viper.Viper
}

func newTree(v *viper.Viper) *Tree {
	if v == nil {
		return nil
	}
	return &Tree{v: v}
}

// Child returns the subtree rooted at name, or false if name is unset
// or not itself a nested node.
func (t *Tree) Child(name string) (*Tree, bool) {
	if t == nil {
		return nil, false
	}
	sub := t.v.Sub(name)
	if sub == nil {
		return nil, false
	}
	return &Tree{v: sub}, true
}

// String reads key as a string, relative to t's root.
func (t *Tree) String(key string) (string, bool) {
	if t == nil || !t.v.IsSet(key) {
		return "", false
	}
	return t.v.GetString(key), true
}

// Int reads key as an int, relative to t's root.
func (t *Tree) Int(key string) (int, bool) {
	if t == nil || !t.v.IsSet(key) {
		return 0, false
	}
	return t.v.GetInt(key), true
}

// Bool reads key as a bool, relative to t's root.
func (t *Tree) Bool(key string) (bool, bool) {
	if t == nil || !t.v.IsSet(key) {
		return false, false
	}
	return t.v.GetBool(key), true
}

// Duration reads key as a time.Duration, relative to t's root.
func (t *Tree) Duration(key string) (time.Duration, bool) {
	if t == nil || !t.v.IsSet(key) {
		return 0, false
	}
	return t.v.GetDuration(key), true
}

// Storage selects the storage backend used for a service's private
// storage plug (§3 Service Entry "private-storage-uri").
type Storage struct {
	Type string `yaml:"type"` // "local" or "s3"
	Path string `yaml:"path"` // local root, when Type == "local"
	S3   S3     `yaml:"s3"`
}

type S3 struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// CORS controls the Host and PubSub REST surfaces' cross-origin policy.
type CORS struct {
	Debug                          bool     `yaml:"debug"`
	DisableCredentials              bool     `yaml:"disable-credentials"`
	AllowOriginsWithCredentials     []string `yaml:"allow-origins-with-credentials"`
	AllowOriginsWithoutCredentials  []string `yaml:"allow-origins-without-credentials"`
	ExtraAllowedHeaders             []string `yaml:"extra-allowed-headers"`
	ExtraExposedHeaders             []string `yaml:"extra-exposed-headers"`
	AllowPrivateNetworkAccess       bool     `yaml:"allow-private-network-access"`
}

// UnsafeAllOriginWithCredentials opts every origin in for credentialed
// requests. Only use it if you know what you're doing.
const UnsafeAllOriginWithCredentials = "UNSAFE_ALL_ORIGINS_WITH_CREDENTIALS"

// Pubsub configures the dispatch queue backend and chaining peers.
type Pubsub struct {
	Queue     QueueConfig `yaml:"queue"`
	Chaining  Chaining    `yaml:"chaining"`
}

type QueueConfig struct {
	Backend string `yaml:"backend"` // memory|disk|nsq|redis|sqs
	Path    string `yaml:"path"`    // disk backend root

	NSQ   NSQConfig   `yaml:"nsq"`
	Redis RedisConfig `yaml:"redis"`
	SQS   SQSConfig   `yaml:"sqs"`

	BackoffStep          time.Duration `yaml:"backoff.step"`
	BackoffMaxMultiplier int           `yaml:"backoff.max-multiplier"`
}

type NSQConfig struct {
	NSQDAddr    string `yaml:"nsqd-addr"`
	LookupdAddr string `yaml:"lookupd-addr"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type SQSConfig struct {
	QueueURL string `yaml:"queue-url"`
	Region   string `yaml:"region"`
}

type Chaining struct {
	DownstreamURIs []string `yaml:"downstream.uri"`
	UpstreamURIs   []string `yaml:"upstream.uri"`
}

// Default returns a Runtime populated with the core's built-in defaults,
// the lowest-priority layer in the precedence chain (file < env < flags).
func Default() *Runtime {
	return &Runtime{
		HostPath:              "/host",
		ServicePath:           "/host/services",
		EnvDebug:              "false",
		ConnectLimit:          200,
		ReentrancyLimit:       20,
		AuthenticationSchemes: []string{"apikey"},
		MemorizeAliases:       true,
		Storage:               Storage{Type: "local", Path: "./data"},
		Pubsub: Pubsub{
			Queue: QueueConfig{
				Backend:              "memory",
				Path:                 "./data/pubsub",
				BackoffStep:          time.Second,
				BackoffMaxMultiplier: 10,
			},
		},
		Shutdown: ShutdownConfig{Timeout: 10 * time.Second},
	}
}

// DebugEnabled reports whether dream.env.debug is a truthy value, treating
// "debugger-only" as enabled (the core never distinguishes the two).
func (r *Runtime) DebugEnabled() bool {
	switch r.EnvDebug {
	case "on", "true", "debugger-only":
		return true
	default:
		return false
	}
}
