// interviewd is the headless participant agent of an interview session. It
// joins the session named on the command line, keeps the peer connection and
// the shared state alive, and tears the session down on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/peerprep/interviewd/pkg/config"
	"github.com/peerprep/interviewd/pkg/media"
	"github.com/peerprep/interviewd/pkg/peer"
	"github.com/peerprep/interviewd/pkg/profiling"
	"github.com/peerprep/interviewd/pkg/relay"
	"github.com/peerprep/interviewd/pkg/rtc"
	"github.com/peerprep/interviewd/pkg/session"
	"github.com/peerprep/interviewd/pkg/store"
	"github.com/peerprep/interviewd/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		sessionID      = flag.String("session", "", "ID of the interview session to join")
		participantID  = flag.String("participant", "", "ID of the joining participant")
		displayName    = flag.String("name", "", "display name announced to the other participant")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	if *sessionID == "" || *participantID == "" {
		logrus.Fatal("both -session and -participant must be set")
	}

	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(*cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}

	// Load the config file from the environment variable or path.
	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}

	setLogLevel(cfg.LogLevel)

	ctx := context.Background()

	if cfg.Telemetry.Enabled() {
		provider, err := telemetry.Setup(ctx, cfg.Telemetry)
		if err != nil {
			logrus.WithError(err).Fatal("could not set up telemetry")
		}
		deferredFunctions = append(deferredFunctions, func() {
			if err := provider.Shutdown(ctx); err != nil {
				logrus.WithError(err).Warn("failed to shut down telemetry")
			}
		})
	}

	relayBackend := createRelay(ctx, cfg)
	sessionStore := createStore(ctx, cfg)

	factory, err := rtc.NewPeerConnectionFactory(cfg.RTC)
	if err != nil {
		logrus.WithError(err).Fatal("could not create peer connection factory")
	}

	live, err := session.Join(ctx, *sessionID, *participantID, cfg.Session, session.Deps{
		Relay:             relayBackend,
		Store:             sessionStore,
		Media:             &media.StaticSource{},
		ConnectionFactory: factory,
		Logger:            logrus.NewEntry(logrus.StandardLogger()),
		DisplayName:       *displayName,
	})
	if err != nil {
		logrus.WithError(err).Fatal("could not join session")
	}

	live.OnNotice(func(notice session.Notice) {
		logrus.WithField("kind", notice.Kind).Info(notice.Message)
	})
	live.OnConnectionStateChange(func(state peer.ConnectionState) {
		logrus.WithField("state", state).Info("connection state changed")
	})

	// Handle signal interruptions.
	interrupted := make(chan os.Signal, 2)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupted:
		logrus.Info("interrupted, leaving session")
		live.Teardown(ctx)
	case <-live.Done():
	}

	for _, function := range deferredFunctions {
		function()
	}
}

func createRelay(ctx context.Context, cfg *config.Config) relay.Relay {
	switch cfg.Relay.Backend {
	case config.RelayBackendRedis:
		backend, err := relay.NewRedis(ctx, cfg.Relay.Redis)
		if err != nil {
			logrus.WithError(err).Fatal("could not connect to redis relay")
		}
		return backend
	case config.RelayBackendWebsocket:
		return relay.NewWebsocket(cfg.Relay.Websocket)
	case config.RelayBackendMatrix:
		backend, err := relay.NewMatrix(cfg.Relay.Matrix)
		if err != nil {
			logrus.WithError(err).Fatal("could not connect to matrix relay")
		}
		return backend
	default:
		logrus.WithField("backend", cfg.Relay.Backend).Fatal("unknown relay backend")
		return nil
	}
}

func createStore(ctx context.Context, cfg *config.Config) store.Store {
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		backend, err := store.NewRedis(ctx, cfg.Store.Redis)
		if err != nil {
			logrus.WithError(err).Fatal("could not connect to redis store")
		}
		return backend
	case config.StoreBackendMemory:
		return store.NewMemory()
	default:
		logrus.WithField("backend", cfg.Store.Backend).Fatal("unknown store backend")
		return nil
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
