package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Load assembles a Runtime from, in increasing priority: the compiled-in
// Default(), an optional YAML file at path (ignored if path is ""),
// environment variables prefixed DREAM_ (with "_" standing for both "."
// and "-" in a key, e.g. DREAM_CONNECT_LIMIT -> connect-limit,
// DREAM_HOST_PATH -> host.path), and finally any flags the caller has
// already bound into v (cmd/dreamhost passes a fresh viper with none).
func Load(path string, v *viper.Viper) (*Runtime, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix("dream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := Default()
	bindDefaults(v, def)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := *def
	cfg.APIKey = v.GetString("apikey")
	cfg.GUID = v.GetString("guid")
	cfg.HostPath = v.GetString("host.path")
	cfg.ServicePath = v.GetString("service.path")
	cfg.RootRedirect = v.GetString("root.redirect")
	cfg.EnvDebug = v.GetString("env.debug")
	cfg.EnvType = v.GetString("env.type")
	cfg.EnvCloud = v.GetString("env.cloud")
	cfg.ConnectLimit = v.GetInt("connect-limit")
	cfg.ReentrancyLimit = v.GetInt("reentrancy-limit")
	if schemes := v.GetStringSlice("authentication-schemes"); len(schemes) > 0 {
		cfg.AuthenticationSchemes = schemes
	}
	cfg.MemorizeAliases = v.GetBool("memorize-aliases")
	cfg.PublicURI = v.GetString("uri.public")

	cfg.Storage.Type = v.GetString("storage.type")
	cfg.Storage.Path = v.GetString("storage.path")
	cfg.Storage.S3.Bucket = v.GetString("storage.s3.bucket")
	cfg.Storage.S3.Prefix = v.GetString("storage.s3.prefix")
	cfg.Storage.S3.Region = v.GetString("storage.s3.region")

	cfg.Pubsub.Queue.Backend = v.GetString("pubsub.queue.backend")
	cfg.Pubsub.Queue.Path = v.GetString("pubsub.queue.path")
	cfg.Pubsub.Queue.NSQ.NSQDAddr = v.GetString("pubsub.queue.nsq.nsqd-addr")
	cfg.Pubsub.Queue.NSQ.LookupdAddr = v.GetString("pubsub.queue.nsq.lookupd-addr")
	cfg.Pubsub.Queue.Redis.Addr = v.GetString("pubsub.queue.redis.addr")
	cfg.Pubsub.Queue.SQS.QueueURL = v.GetString("pubsub.queue.sqs.queue-url")
	cfg.Pubsub.Queue.SQS.Region = v.GetString("pubsub.queue.sqs.region")
	if step := v.GetDuration("pubsub.queue.backoff.step"); step > 0 {
		cfg.Pubsub.Queue.BackoffStep = step
	}
	if mult := v.GetInt("pubsub.queue.backoff.max-multiplier"); mult > 0 {
		cfg.Pubsub.Queue.BackoffMaxMultiplier = mult
	}
	cfg.Pubsub.Chaining.DownstreamURIs = v.GetStringSlice("pubsub.chaining.downstream.uri")
	cfg.Pubsub.Chaining.UpstreamURIs = v.GetStringSlice("pubsub.chaining.upstream.uri")

	if timeout := v.GetDuration("shutdown.timeout"); timeout > 0 {
		cfg.Shutdown.Timeout = timeout
	}

	cfg.Tree = newTree(v)

	return &cfg, nil
}

func bindDefaults(v *viper.Viper, def *Runtime) {
	v.SetDefault("host.path", def.HostPath)
	v.SetDefault("service.path", def.ServicePath)
	v.SetDefault("env.debug", def.EnvDebug)
	v.SetDefault("connect-limit", def.ConnectLimit)
	v.SetDefault("reentrancy-limit", def.ReentrancyLimit)
	v.SetDefault("authentication-schemes", def.AuthenticationSchemes)
	v.SetDefault("memorize-aliases", def.MemorizeAliases)
	v.SetDefault("storage.type", def.Storage.Type)
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("pubsub.queue.backend", def.Pubsub.Queue.Backend)
	v.SetDefault("pubsub.queue.path", def.Pubsub.Queue.Path)
	v.SetDefault("pubsub.queue.backoff.step", def.Pubsub.Queue.BackoffStep)
	v.SetDefault("pubsub.queue.backoff.max-multiplier", def.Pubsub.Queue.BackoffMaxMultiplier)
	v.SetDefault("shutdown.timeout", def.Shutdown.Timeout)
}
