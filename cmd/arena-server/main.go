package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/BurntSushi/toml"
	"github.com/codebattle/arena/internal/api"
	"github.com/codebattle/arena/internal/database"
	"github.com/codebattle/arena/internal/gateway"
	"github.com/codebattle/arena/internal/judge"
	"github.com/codebattle/arena/internal/leaderboard"
	"github.com/codebattle/arena/internal/match"
	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/room"
	"github.com/codebattle/arena/internal/userauth"
	"github.com/codebattle/arena/internal/version"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:     "arena-server",
	Args:    cobra.ExactArgs(0),
	Version: version.Version,
	Short:   "Start the arena server",
	Long: `Arena runs realtime competitive-programming battles: lobbies, judged
matches, Elo ratings and leaderboards.

This command runs the arena server.
`,
}

func makeLogger(opts *Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.LogDebug {
		level = slog.LevelDebug
	}
	if opts.LogJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(colorable.NewColorableStderr(), &slog.HandlerOptions{Level: level}))
}

func loadSecrets(path string) (Secrets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		raw = nil
		if !errors.Is(err, os.ErrNotExist) {
			return Secrets{}, fmt.Errorf("read secrets: %w", err)
		}
	}
	var secrets Secrets
	if err := toml.Unmarshal(raw, &secrets); err != nil {
		return Secrets{}, fmt.Errorf("unmarshal secrets: %w", err)
	}
	changed, err := secrets.GenerateMissing()
	if err != nil {
		return Secrets{}, fmt.Errorf("generate secrets: %w", err)
	}
	if changed {
		newRaw, err := toml.Marshal(&secrets)
		if err != nil {
			return Secrets{}, fmt.Errorf("marshal secrets: %w", err)
		}
		if err := os.WriteFile(path, newRaw, 0600); err != nil {
			return Secrets{}, fmt.Errorf("write secrets: %w", err)
		}
	}
	return secrets, nil
}

func ensureProblems(ctx context.Context, log *slog.Logger, db *database.DB) error {
	cnt, err := db.CountProblems(ctx)
	if err != nil {
		return err
	}
	if cnt != 0 {
		return nil
	}
	probs := problem.Seed()
	if err := db.SeedProblems(ctx, probs); err != nil {
		return err
	}
	log.Info("seeded built-in problems", slog.Int("count", len(probs)))
	return nil
}

func main() {
	p := serverCmd.Flags()
	optsPath := p.StringP(
		"options", "o", "",
		"options file",
	)
	secretsPath := p.StringP(
		"secrets", "s", "",
		"secrets file",
	)
	if err := serverCmd.MarkFlagRequired("options"); err != nil {
		panic(err)
	}
	if err := serverCmd.MarkFlagRequired("secrets"); err != nil {
		panic(err)
	}

	serverCmd.RunE = func(cmd *cobra.Command, _args []string) error {
		secrets, err := loadSecrets(*secretsPath)
		if err != nil {
			return err
		}

		rawOpts, err := os.ReadFile(*optsPath)
		if err != nil {
			return fmt.Errorf("read options: %w", err)
		}
		var opts Options
		if err := toml.Unmarshal(rawOpts, &opts); err != nil {
			return fmt.Errorf("unmarshal options: %w", err)
		}
		if err := opts.MixSecrets(&secrets); err != nil {
			return fmt.Errorf("mix secrets into options: %w", err)
		}
		opts.FillDefaults()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		log := makeLogger(&opts)

		db, err := database.New(log.With(slog.String("component", "db")), opts.DB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		if err := ensureProblems(ctx, log, db); err != nil {
			return fmt.Errorf("seed problems: %w", err)
		}

		var oracle judge.Oracle
		if opts.Judge.Endpoint != "" {
			oracle = judge.NewClient(opts.Judge, nil)
		} else {
			log.Warn("no judge endpoint configured, using the local dev oracle")
			oracle = judge.NewLocal()
		}

		tokens := userauth.NewTokenChecker(opts.TokenCache, db)
		defer tokens.Close()

		gw := gateway.New(log.With(slog.String("component", "gateway")), tokens, db, opts.Gateway)
		matches := match.NewManager(
			log.With(slog.String("component", "match")),
			db, db, oracle, gw, opts.Match,
		)
		defer matches.Close()
		rooms := room.NewManager(
			log.With(slog.String("component", "room")),
			gw, matches, opts.Room,
		)
		defer rooms.Close()
		gw.Attach(rooms, matches)
		defer gw.Close()

		mux := http.NewServeMux()
		mux.Handle("/ws", gw)
		api.NewServer(
			log.With(slog.String("component", "api")),
			matches, db, leaderboard.NewService(db), tokens,
			api.ServerOptions{AdminSecret: opts.adminSecret},
		).Register(mux)

		servs, err := newServers(ctx, log, &opts, mux)
		if err != nil {
			return fmt.Errorf("create servers: %w", err)
		}
		servs.Go()
		defer servs.Shutdown()

		<-ctx.Done()
		return nil
	}

	if err := serverCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
