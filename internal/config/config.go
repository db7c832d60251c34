// Package config collects the server settings from flags, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/casino-backend/internal/blackjack"
)

// MinSecretLength is the shortest HS256 signing secret accepted.
const MinSecretLength = 32

type Config struct {
	Addr        string
	DatabaseURL string // empty runs on the in-memory store
	JWTSecret   string
	TokenTTL    time.Duration
	LogLevel    string
	LogFormat   string

	IdentifyTimeout time.Duration
	WriteTimeout    time.Duration
	SendQueueSize   int
	AllowedOrigins  []string

	Blackjack blackjack.Rules
	SeedUser  string
}

func Default() Config {
	return Config{
		Addr:            ":8080",
		TokenTTL:        24 * time.Hour,
		LogLevel:        "info",
		LogFormat:       "json",
		IdentifyTimeout: 10 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendQueueSize:   64,
		Blackjack:       blackjack.DefaultRules(),
	}
}

// LoadEnvFile loads .env into the environment. A missing file is fine.
func LoadEnvFile(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Flags returns the command line flags, each backed by an environment
// variable.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Value: d.Addr, Usage: "HTTP listen address", Sources: cli.EnvVars("ADDR")},
		&cli.StringFlag{Name: "database-url", Usage: "Postgres DSN; empty uses the in-memory store", Sources: cli.EnvVars("DATABASE_URL")},
		&cli.StringFlag{Name: "jwt-secret", Usage: "HS256 signing secret, required", Sources: cli.EnvVars("JWT_SECRET")},
		&cli.DurationFlag{Name: "token-ttl", Value: d.TokenTTL, Usage: "lifetime of issued tokens", Sources: cli.EnvVars("TOKEN_TTL")},
		&cli.StringFlag{Name: "log-level", Value: d.LogLevel, Usage: "debug, info, warn or error", Sources: cli.EnvVars("LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Value: d.LogFormat, Usage: "json or console", Sources: cli.EnvVars("LOG_FORMAT")},
		&cli.DurationFlag{Name: "identify-timeout", Value: d.IdentifyTimeout, Usage: "time a client has to send IDENTIFY", Sources: cli.EnvVars("IDENTIFY_TIMEOUT")},
		&cli.DurationFlag{Name: "write-timeout", Value: d.WriteTimeout, Usage: "per-frame write deadline", Sources: cli.EnvVars("WRITE_TIMEOUT")},
		&cli.StringSliceFlag{Name: "allowed-origins", Usage: "extra browser origin patterns allowed to open websockets", Sources: cli.EnvVars("ALLOWED_ORIGINS")},
		&cli.IntFlag{Name: "send-queue", Value: d.SendQueueSize, Usage: "outbound frames buffered per session", Sources: cli.EnvVars("SEND_QUEUE_SIZE")},
		&cli.DurationFlag{Name: "bet-wait", Value: d.Blackjack.BetWait, Usage: "blackjack betting window", Sources: cli.EnvVars("BLACKJACK_BET_WAIT")},
		&cli.DurationFlag{Name: "turn-timeout", Value: d.Blackjack.TurnTimeout, Usage: "blackjack turn limit", Sources: cli.EnvVars("BLACKJACK_TURN_TIMEOUT")},
		&cli.DurationFlag{Name: "deal-pacing", Value: d.Blackjack.DealPacing, Usage: "delay between dealt cards", Sources: cli.EnvVars("BLACKJACK_DEAL_PACING")},
		&cli.DurationFlag{Name: "reset-delay", Value: d.Blackjack.ResetDelay, Usage: "pause after settlement", Sources: cli.EnvVars("BLACKJACK_RESET_DELAY")},
		&cli.StringFlag{Name: "seed-user", Usage: "create this user and log a token for it", Sources: cli.EnvVars("SEED_USER")},
	}
}

// FromCommand reads the parsed flags.
func FromCommand(cmd *cli.Command) (Config, error) {
	c := Default()
	c.Addr = cmd.String("addr")
	c.DatabaseURL = cmd.String("database-url")
	c.JWTSecret = cmd.String("jwt-secret")
	c.TokenTTL = cmd.Duration("token-ttl")
	c.LogLevel = cmd.String("log-level")
	c.LogFormat = cmd.String("log-format")
	c.IdentifyTimeout = cmd.Duration("identify-timeout")
	c.WriteTimeout = cmd.Duration("write-timeout")
	c.SendQueueSize = cmd.Int("send-queue")
	if origins := cmd.StringSlice("allowed-origins"); len(origins) > 0 {
		c.AllowedOrigins = origins
	}
	c.Blackjack.BetWait = cmd.Duration("bet-wait")
	c.Blackjack.TurnTimeout = cmd.Duration("turn-timeout")
	c.Blackjack.DealPacing = cmd.Duration("deal-pacing")
	c.Blackjack.ResetDelay = cmd.Duration("reset-delay")
	c.SeedUser = cmd.String("seed-user")
	return c, c.Validate()
}

func (c Config) Validate() error {
	var err error
	switch {
	case c.JWTSecret == "":
		err = multierr.Append(err, errors.New("jwt secret must be set (--jwt-secret or JWT_SECRET)"))
	case len(c.JWTSecret) < MinSecretLength:
		err = multierr.Append(err, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength))
	}
	if c.SendQueueSize <= 0 {
		err = multierr.Append(err, errors.New("send queue size must be positive"))
	}
	if c.IdentifyTimeout <= 0 {
		err = multierr.Append(err, errors.New("identify timeout must be positive"))
	}
	if c.Blackjack.TurnTimeout <= 0 || c.Blackjack.BetWait <= 0 {
		err = multierr.Append(err, errors.New("blackjack timers must be positive"))
	}
	return err
}
