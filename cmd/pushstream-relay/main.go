// Command pushstream-relay runs the media-bridging pipeline as a
// standalone process: load configuration, start the token
// authenticator, the session/recording registries, and the request
// dispatcher, then wait for SIGINT or SIGTERM.
//
// The real deployment target for this logic is a Janus plugin loaded
// by the gateway's C core across a cgo boundary (plugin_callbacks,
// the janus_plugin vtable); that boundary is not something a pure Go
// module can reproduce. This binary constructs no Session and no
// Gateway implementation and has no transport attached, so it
// receives no control-plane requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meetecho/pushstream-relay/pkg/auth"
	"github.com/meetecho/pushstream-relay/pkg/config"
	"github.com/meetecho/pushstream-relay/pkg/dispatcher"
	"github.com/meetecho/pushstream-relay/pkg/logger"
	"github.com/meetecho/pushstream-relay/pkg/registry"
)

func main() {
	fs := flag.NewFlagSet("pushstream-relay", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configPath := fs.String("config", ".env", "path to the key=value configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "WebRTC-to-RTMP media-bridging relay\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting pushstream relay", "log_config", logFlags.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "config_path", *configPath)

	authenticator, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		log.Error("failed to initialize authenticator", "error", err)
		os.Exit(1)
	}
	log.Info("authenticator initialized", "mode", authenticator.Mode())

	sessions := registry.NewSessions()
	recordings := registry.NewRecordings()

	// A real deployment adds a session each time the gateway reports a
	// new handle; this harness has no gateway attached, so it only
	// mints and logs one handle and adds nothing to the registries.
	bootHandle := registry.NewHandle()
	log.Info("minted boot handle", "handle", bootHandle)

	disp := dispatcher.New(0, 1)
	disp.Start()
	defer disp.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	log.Info("pushstream relay ready", "active_sessions", sessions.Len(), "active_recordings", recordings.Len())

	<-ctx.Done()
	log.Info("shutting down")
}

func buildAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthNone:
		return auth.NewNone(), nil
	case config.AuthStored:
		return auth.NewStored(), nil
	case config.AuthSigned:
		return auth.NewSigned(cfg.Secret), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
