package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mirrorbird/internal/cmdlog"
	"mirrorbird/internal/config"
	"mirrorbird/internal/ledger"
	"mirrorbird/internal/masto"
	"mirrorbird/internal/metrics"
	"mirrorbird/internal/mirror"
	"mirrorbird/internal/pipeline"
	"mirrorbird/internal/theme"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "verify":
		cmdVerify()
	case "prune":
		cmdPrune()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: mirrorbird <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init     Create a config file at ./mirrorbird.yaml")
	fmt.Println("  run      Mirror the configured account once, or on a timer with -every")
	fmt.Println("  verify   Check target credentials")
	fmt.Println("  prune    Trim the delivery ledger to the retention limit")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./mirrorbird.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

func mustLoadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	return cfg
}

// targetClient builds the API client, logging in with the password grant
// when no access token is configured.
func targetClient(ctx context.Context, cfg config.Config) (*masto.Client, error) {
	client := masto.NewClient("https://"+cfg.Target.Instance, cfg.Target.AccessToken)
	if cfg.Target.AccessToken == "" {
		if cfg.Target.Password == "" {
			return nil, fmt.Errorf("no access token and no password for %s", cfg.Target.Instance)
		}
		if err := client.Login(ctx, cfg.Target.ClientID, cfg.Target.ClientSecret, cfg.Target.Account, cfg.Target.Password); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./mirrorbird.yaml", "config path")
	every := fs.Duration("every", 0, "repeat interval; 0 runs once")
	_ = fs.Parse(os.Args[2:])
	cfg := mustLoadConfig(*cfgPath)

	if cfg.Metrics.Addr != "" {
		metrics.StartServer(cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmdlog.Run("run", func() error {
		src, err := mirror.New(cfg.Source.MirrorBases, cfg.Source.UserAgents)
		if err != nil {
			return err
		}
		target, err := targetClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer target.Close()
		led, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer led.Close()

		if *every > 0 {
			return pipeline.RunLoop(ctx, cfg, src, target, led, *every)
		}
		return pipeline.Run(ctx, cfg, src, target, led)
	})
	if err != nil && ctx.Err() == nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func cmdVerify() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfgPath := fs.String("config", "./mirrorbird.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	cfg := mustLoadConfig(*cfgPath)

	err := cmdlog.Run("verify", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		target, err := targetClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer target.Close()
		acct, err := target.VerifyCredentials(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Authenticated as @%s on %s\n", acct, cfg.Target.Instance)
		return nil
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func cmdPrune() {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	cfgPath := fs.String("config", "./mirrorbird.yaml", "config path")
	account := fs.String("account", "", "source account; default from config")
	keep := fs.Int("keep", 0, "rows to keep; default from config")
	_ = fs.Parse(os.Args[2:])
	cfg := mustLoadConfig(*cfgPath)
	if *account == "" {
		*account = cfg.Source.Account
	}
	if *keep == 0 {
		*keep = cfg.Ledger.Retention
	}

	err := cmdlog.Run("prune", func() error {
		led, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer led.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := led.PruneToMostRecent(ctx, *account, *keep)
		if err != nil {
			return err
		}
		kept, err := led.Count(ctx, *account)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d ledger rows for %s, %d kept\n", removed, *account, kept)
		return nil
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
