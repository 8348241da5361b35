package pos

import (
	"context"
	"errors"
	"time"
	"wisppos-backend/lib/configutil"
	"wisppos-backend/lib/events"
	"wisppos-backend/lib/kvstore"
	"wisppos-backend/services/wisphub"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type HttpConfig struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfig struct {
	SigningSecret      string `json:"signing_secret" env:"SIGNING_SECRET"`
	TokenLifetimeHours int    `json:"token_lifetime_hours"`
}

// Config is the config.json5 shared by the daemon and the cli. secrets can
// also come from WISPPOS_* environment variables (or a .env file), those win
// over the files.
type Config struct {
	WispHub  wisphub.Config `json:"wisphub"`
	Store    kvstore.Config `json:"store" envPrefix:"STORE_"`
	Http     HttpConfig     `json:"http"`
	Auth     AuthConfig     `json:"auth" envPrefix:"AUTH_"`
	Admin    AdminAccount   `json:"admin" envPrefix:"ADMIN_"`
	Smtp     SmtpConfig     `json:"smtp" envPrefix:"SMTP_"`
	Events   events.Config  `json:"events" envPrefix:"EVENTS_"`
	Schedule ScheduleConfig `json:"schedule"`
	// CorteRecipients receive the monthly cut when it is emailed.
	CorteRecipients []string `json:"corte_recipients"`
}

func DefaultConfig() Config {
	return Config{
		WispHub: wisphub.Config{BaseUrl: wisphub.DefaultBaseUrl},
		Store:   kvstore.Config{Driver: "file", File: ".data_store"},
		Http:    HttpConfig{Port: 8080},
		Auth:    AuthConfig{TokenLifetimeHours: 12},
		Smtp:    SmtpConfig{Port: 587},
	}
}

const EnvPrefix = "WISPPOS_"

// LoadConfig reads path (plus its .local override) over the defaults and
// applies the environment on top.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(path, DefaultConfig())
	if err != nil {
		return Config{}, err
	}
	// a missing .env is fine
	_ = godotenv.Load()
	err = env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var ErrMissingSigningSecret = errors.New("auth.signing_secret must be set")

// App is everything a binary needs, wired from a Config.
type App struct {
	Config  Config
	Store   kvstore.Store
	Portal  *wisphub.Client
	Users   UserStore
	History History
	Tokens  TokenIssuer
	Service Service

	close func() error
}

func Open(ctx context.Context, config Config) (App, error) {
	if config.Auth.SigningSecret == "" {
		return App{}, ErrMissingSigningSecret
	}

	store, closeStore, err := kvstore.Open(ctx, config.Store)
	if err != nil {
		return App{}, err
	}
	publisher, closePublisher, err := events.Open(config.Events)
	if err != nil {
		closeStore()
		return App{}, err
	}
	closeAll := func() error {
		return errors.Join(closePublisher(), closeStore())
	}

	opts, err := config.WispHub.Options(store)
	if err != nil {
		closeAll()
		return App{}, err
	}
	portal, err := wisphub.NewClient(opts)
	if err != nil {
		closeAll()
		return App{}, err
	}

	users := NewUserStore(store)
	history := NewHistory(store)
	tokens := NewTokenIssuer(
		config.Auth.SigningSecret,
		time.Duration(config.Auth.TokenLifetimeHours)*time.Hour,
	)
	service := NewService(portal, users, history, tokens, Options{
		Admin:    config.Admin,
		Location: opts.Location,
		Events:   publisher,
	})

	return App{
		Config:  config,
		Store:   store,
		Portal:  portal,
		Users:   users,
		History: history,
		Tokens:  tokens,
		Service: service,
		close:   closeAll,
	}, nil
}

func (a App) Handler() Handler {
	return NewHandler(a.Service, a.Tokens)
}

func (a App) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}
