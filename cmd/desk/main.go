package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/deskbot/godesk/internal/backendproc"
	"github.com/deskbot/godesk/internal/brokers"
	"github.com/deskbot/godesk/internal/dashboard"
	"github.com/deskbot/godesk/internal/desk"
	"github.com/deskbot/godesk/internal/guard"
	"github.com/deskbot/godesk/internal/health"
	"github.com/deskbot/godesk/internal/journal"
	"github.com/deskbot/godesk/internal/oauth"
	"github.com/deskbot/godesk/internal/session"
	"github.com/deskbot/godesk/internal/trademode"
	"github.com/deskbot/godesk/pkg/config"
	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/persistence"
	"github.com/deskbot/godesk/pkg/sdk/backend"
	"github.com/deskbot/godesk/pkg/sdk/stream"
	"github.com/deskbot/godesk/pkg/shutdown"
	"github.com/deskbot/godesk/pkg/vault"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "config file path (.yaml, .yml, .json)")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(err)
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
	} else if p, ok := firstExistingFile("desk.yaml", "config/desk.yaml"); ok {
		config.SetConfigPath(p)
		logrus.Infof("Using config file: %s", p)
	} else {
		logrus.Info("No config file, using environment and defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("Load config: %v", err)
		os.Exit(1)
	}

	// The dashboard owns stdout when it runs; keep console logging for
	// headless runs only.
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		Quiet:      interactive,
	}); err != nil {
		logrus.Errorf("Init logger: %v", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("Received stop signal, shutting down")
		rootCancel()
	}()

	sd := shutdown.NewManager()

	vlt := openVault(cfg, sd)

	var jr *journal.Journal
	if cfg.Journal != "" {
		jr, err = journal.Open(cfg.Journal)
		if err != nil {
			logrus.Warnf("Journal disabled: %v", err)
			jr = nil
		} else {
			sd.OnShutdown("journal", func(ctx context.Context) { _ = jr.Close() })
		}
	}

	client := backend.NewClient(cfg.Backend.BaseURL)

	if cfg.Backend.Spawn != "" {
		proc := backendproc.New(backendproc.Options{
			Command:     append([]string{cfg.Backend.Spawn}, cfg.Backend.Args...),
			HealthCheck: client.Health,
		})
		if err := proc.Start(); err != nil {
			logrus.Errorf("Start backend: %v", err)
			os.Exit(1)
		}
		sd.OnShutdown("backend process", func(ctx context.Context) { proc.Stop() })

		healthCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
		err := proc.WaitHealthy(healthCtx)
		cancel()
		if err != nil {
			logrus.Errorf("Backend: %v", err)
			shutdownNow(sd)
			os.Exit(1)
		}
		logrus.Info("Backend process is healthy")
	}

	bus := oauth.NewBus()
	relay := oauth.NewRelay(cfg.Relay.Addr, bus)
	if err := relay.Start(); err != nil {
		logrus.Errorf("Start OAuth relay: %v", err)
		shutdownNow(sd)
		os.Exit(1)
	}
	sd.OnShutdown("oauth relay", func(ctx context.Context) { _ = relay.Shutdown(ctx) })

	handshake := oauth.NewHandshake(oauth.HandshakeOptions{
		Backend:     client,
		Bus:         bus,
		Timeout:     cfg.OAuth.Timeout,
		RedirectURI: relay.CallbackURL(),
	})

	sess := session.New()
	g := guard.New(sess)
	modeStore := persistence.NewJSONFileService(cfg.StateDir).NewStore("desk", "client", "trademode")
	modes, err := trademode.NewStore(modeStore, g)
	if err != nil {
		logrus.Errorf("Trading mode store: %v", err)
		shutdownNow(sd)
		os.Exit(1)
	}

	core := desk.New(desk.Options{
		Registry:  brokers.New(),
		Backend:   client,
		Handshake: handshake,
		Session:   sess,
		Modes:     modes,
		Guard:     g,
		Journal:   jr,
		Breaker:   health.New(health.Config{}),
	})
	sd.OnShutdown("desk core", func(ctx context.Context) { core.Close() })

	restoreCtx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	if err := core.Restore(restoreCtx); err != nil {
		logrus.Warnf("Restore: %v", err)
	}
	cancel()

	if cfg.Stream {
		startStream(rootCtx, cfg, core, sd)
	}

	ui := dashboard.New(dashboard.Options{
		Core:  core,
		Forms: formResolver(cfg, vlt, core),
	})

	logrus.Info("Desk client started")
	if err := ui.Run(rootCtx); err != nil {
		logrus.Errorf("Dashboard: %v", err)
	}
	rootCancel()

	shutdownNow(sd)
	logrus.Info("Desk client stopped")
}

func shutdownNow(sd *shutdown.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sd.Shutdown(ctx)
}

// openVault opens the credential store when a key is configured. The desk
// works without one; broker secrets then come from the environment alone.
func openVault(cfg *config.Config, sd *shutdown.Manager) *vault.Store {
	keyBytes, err := vault.ParseKey(os.Getenv(cfg.Vault.KeyEnv))
	if err != nil {
		logrus.Warnf("Vault key in %s is invalid: %v", cfg.Vault.KeyEnv, err)
		return nil
	}
	if keyBytes == nil {
		logrus.Infof("No vault key in %s, vault disabled", cfg.Vault.KeyEnv)
		return nil
	}
	vlt, err := vault.Open(vault.Options{
		Path:          cfg.Vault.Path,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		logrus.Warnf("Vault disabled: %v", err)
		return nil
	}
	sd.OnShutdown("vault", func(ctx context.Context) { _ = vlt.Close() })
	return vlt
}

// startStream connects the push channel and feeds balance updates into the
// core. Failures only log; polling covers for a missing stream.
func startStream(ctx context.Context, cfg *config.Config, core *desk.Core, sd *shutdown.Manager) {
	wsURL, err := stream.WSURL(cfg.Backend.BaseURL)
	if err != nil {
		logrus.Warnf("Stream disabled: %v", err)
		return
	}
	sc := stream.NewClient(wsURL)
	if err := sc.Start(ctx); err != nil {
		logrus.Warnf("Stream disabled: %v", err)
		return
	}
	sd.OnShutdown("stream", func(ctx context.Context) { sc.Stop() })

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-sc.Updates():
				core.ApplyAccountUpdate(u.Broker, u.AccountID, u.BuyingPower, u.PortfolioValue)
			}
		}
	}()
}

// formResolver builds the prefilled connect form for a broker: descriptor
// defaults, then the config file's broker section, then secrets resolved
// through the environment and the vault.
func formResolver(cfg *config.Config, vlt *vault.Store, core *desk.Core) func(string) map[string]string {
	return func(brokerID string) map[string]string {
		form := map[string]string{}
		d, err := core.Describe(brokerID)
		if err != nil {
			return form
		}
		for k, v := range d.Defaults {
			form[k] = v
		}
		for k, v := range cfg.Brokers[brokerID] {
			form[k] = v
		}
		fields := make([]string, 0, len(d.RequiredFields)+len(d.OptionalFields))
		fields = append(fields, d.RequiredFields...)
		fields = append(fields, d.OptionalFields...)
		for _, f := range fields {
			if v := vlt.Getenv(envKeyFor(brokerID, f)); v != "" {
				form[f] = v
			}
		}
		return form
	}
}

// envKeyFor maps a broker form field to its environment name, e.g.
// robinhood/username becomes ROBINHOOD_USERNAME.
func envKeyFor(brokerID, field string) string {
	return strings.ToUpper(brokerID + "_" + field)
}
