package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"keyward.org/internal/authz"
	"keyward.org/internal/config"
	"keyward.org/internal/credential"
	"keyward.org/internal/migrate"
	"keyward.org/internal/obs"
	"keyward.org/internal/permission"
	"keyward.org/internal/principal"
	"keyward.org/internal/store"
)

var (
	version = "dev"
	commit  = "none"
)

const usage = `usage: keyward [flags] <command> [args]

commands:
  migrate up|down|status|seed
  user    create|get|delete|passwd|email|username|pin|status|logout-all
  role    create|delete|list|grant|revoke|roles|perms|add-perms|update-perms|remove-perms
  access  check|effective
  login   -email|-username with -password, or -pin
  token   issue|validate|whoami|revoke|refresh`

// app carries the wired components a command may use.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	store  *store.Store
	facade *authz.Facade
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		actor       = flag.Int64("actor", 0, "principal id recorded as the author of mutations")
		timeout     = flag.Duration("timeout", 30*time.Second, "deadline for the whole command")
		metricsFile = flag.String("metrics-file", "", "write Prometheus metrics in text format to this file on exit")
	)
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if *actor > 0 {
		ctx = store.WithActor(ctx, *actor)
	}

	a, err := wire(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("startup failed")
		return 1
	}
	defer a.store.Close()

	code := a.dispatch(ctx, flag.Args())
	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); err != nil {
			logger.WithError(err).Error("write metrics")
		}
	}
	return code
}

func wire(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	st, err := store.Open(cfg.PGDSN, cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	metrics, err := obs.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := obs.RegisterBuildInfo(prometheus.DefaultRegisterer, version, commit); err != nil {
		st.Close()
		return nil, err
	}
	signer, err := cfg.Signer()
	if err != nil {
		st.Close()
		return nil, err
	}
	creds, err := credential.NewService(st, signer,
		credential.WithDefaultTTL(cfg.TokenTTL),
		credential.WithLogger(logger),
		credential.WithMetrics(metrics),
	)
	if err != nil {
		st.Close()
		return nil, err
	}
	engine := permission.NewEngine(st, permission.WithLogger(logger), permission.WithMetrics(metrics))
	facade := authz.New(st, principal.NewRepository(st), engine, creds,
		authz.WithHasher(principal.NewHasher(cfg.BcryptCost, cfg.PasswordMinLength)),
		authz.WithLogger(logger),
		authz.WithMetrics(metrics),
	)
	logger.WithFields(logrus.Fields{
		"version":      version,
		"signing_mode": cfg.SigningMode.String(),
		"algorithm":    signer.Algorithm(),
	}).Debug("keyward ready")
	return &app{cfg: cfg, log: logger, store: st, facade: facade}, nil
}

func (a *app) dispatch(ctx context.Context, args []string) int {
	switch args[0] {
	case "migrate":
		return a.migrate(ctx, args[1:])
	case "user":
		return a.user(ctx, args[1:])
	case "role":
		return a.role(ctx, args[1:])
	case "access":
		return a.access(ctx, args[1:])
	case "login":
		return a.login(ctx, args[1:])
	case "token":
		return a.token(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", args[0], usage)
		return 2
	}
}

func (a *app) migrate(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: keyward migrate up|down|status|seed")
		return 2
	}
	mgr := migrate.NewManager(a.store.DB(), migrate.Schema(), migrate.Seeds(), migrate.WithLogger(a.log))
	var (
		out any
		err error
	)
	switch args[0] {
	case "up":
		out, err = mgr.Up(ctx)
	case "down":
		out, err = mgr.Down(ctx)
	case "status":
		out, err = mgr.Status(ctx)
	case "seed":
		out, err = mgr.Seed(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate command %q\n", args[0])
		return 2
	}
	if err != nil {
		a.log.WithError(err).Errorf("migrate %s", args[0])
		return 1
	}
	return printJSON(out)
}

// emit prints a facade envelope; a failed envelope exits non-zero.
func emit[T any](res authz.Response[T]) int {
	if code := printJSON(res); code != 0 {
		return code
	}
	if !res.Status {
		return 1
	}
	return 0
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
