// Command dreamhost runs one Dream Host process: the Request Host's
// REST surface (spec §6) and, mounted at --pubsub-path (default
// /host/pubsub), the PubSub Fabric's REST surface alongside it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dream/config"
	"dream/host"
	"dream/host/diagnostics"
	"dream/host/reqtrack"
	"dream/host/shutdown"
	"dream/host/transport"
	"dream/plug"
	"dream/pubsub/dispatcher"
	"dream/pubsub/pubsubsvc"
	"dream/pubsub/queue"
	"dream/pubsub/queue/nsqbackend"
	"dream/pubsub/queue/redisbackend"
	"dream/pubsub/queue/sqsbackend"
	"dream/pubsub/subscription"
	"dream/rlog"
	"dream/service"
)

var buildVersion = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var addr string
	var pubsubPath string

	root := &cobra.Command{
		Use:   "dreamhost",
		Short: "Run a MindTouch Dream request host and pubsub fabric",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host process and serve its REST surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), configPath, addr, pubsubPath)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	runCmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	runCmd.Flags().StringVar(&pubsubPath, "pubsub-path", "/host/pubsub", "mount path for the PubSub REST surface")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildVersion)
		},
	}

	root.AddCommand(runCmd, versionCmd)
	return root
}

func runHost(ctx context.Context, configPath, addr, pubsubPath string) error {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg, err := config.Load(configPath, viper.New())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	healthChecks := diagnostics.NewRegistry()
	activator := service.ActivatorFunc(func(class string) (service.Service, error) {
		return nil, fmt.Errorf("no service registered for class %q", class)
	})
	mgr := service.NewManager(activator, healthChecks, logger)
	rt := reqtrack.New(logger)
	rlog.Singleton = rlog.NewManager(rt)
	sh := shutdown.NewTracker(cfg, logger)
	shutdown.Singleton = sh
	sh.WatchForShutdownSignals()

	h := host.New(cfg, cfg.GUID, mgr, sh, healthChecks, rt)
	hostServer := transport.NewServer(cfg, h, logger)

	factory, err := buildQueueFactory(ctx, cfg.Pubsub.Queue)
	if err != nil {
		return fmt.Errorf("build queue factory: %w", err)
	}

	reg := subscription.NewRegistry()
	repo := queue.NewRepository(nil, queue.Config{
		Backend:              cfg.Pubsub.Queue.Backend,
		Path:                 cfg.Pubsub.Queue.Path,
		BackoffStep:          cfg.Pubsub.Queue.BackoffStep,
		BackoffMaxMultiplier: cfg.Pubsub.Queue.BackoffMaxMultiplier,
		Factory:              factory,
	})
	remoteTransport := plug.NewHTTPTransport()
	disp := dispatcher.New("local://"+cfg.GUID+"/pubsub", reg, repo, dispatcher.NewTransportDeliverFunc(remoteTransport), logger)

	if _, err := repo.InitializeRepository(ctx, disp.DequeueHandler); err != nil {
		return fmt.Errorf("initialize pubsub repository: %w", err)
	}
	disp.StartChaining(ctx, remoteTransport, cfg.Pubsub.Chaining.DownstreamURIs, cfg.Pubsub.Chaining.UpstreamURIs)
	shutdown.Singleton.OnShutdown(func(context.Context) { repo.DisposeAll() })

	pubsubServer := pubsubsvc.NewServer(cfg, pubsubPath, reg, repo, disp, logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.HostPath+"/", hostServer.Handler())
	mux.Handle(pubsubPath+"/", pubsubServer.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	sh.OnShutdown(func(force context.Context) {
		_ = srv.Shutdown(force)
	})

	logger.Info().Str("addr", addr).Msg("dreamhost listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildQueueFactory returns the per-location queue constructor the pubsub
// Repository needs for an out-of-process broker backend. It dials the
// backend's shared client once up front (a Redis/SQS client is safe for
// concurrent use across every set's queue; NSQ instead gets its own
// producer/consumer pair per location, so that backend builds lazily).
// Backends "memory" and "disk" need no factory: the Repository constructs
// those itself.
func buildQueueFactory(ctx context.Context, cfg config.QueueConfig) (func(string) (queue.Queue, error), error) {
	switch cfg.Backend {
	case "nsq":
		nsqCfg := nsqbackend.Config{NSQDAddr: cfg.NSQ.NSQDAddr, LookupdAddr: cfg.NSQ.LookupdAddr}
		return func(location string) (queue.Queue, error) {
			return nsqbackend.New(nsqCfg, location)
		}, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redisbackend: connect to %s: %w", cfg.Redis.Addr, err)
		}
		return func(location string) (queue.Queue, error) {
			return redisbackend.New(client, location, cfg.BackoffStep, cfg.BackoffMaxMultiplier), nil
		}, nil

	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SQS.Region))
		if err != nil {
			return nil, fmt.Errorf("sqsbackend: load aws config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		return func(location string) (queue.Queue, error) {
			return sqsbackend.New(client, cfg.SQS.QueueURL), nil
		}, nil

	default:
		return nil, nil
	}
}
