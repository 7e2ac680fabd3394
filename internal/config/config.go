package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CHATSWAP_"

type GlobalFlags struct {
	ConfigPath string
	EnvFile    string
	JSON       bool
	Plain      bool
	LogLevel   string
	LogFormat  string
	Timeout    string
	Retries    int
}

// ServeFlags are only registered on the serve command.
type ServeFlags struct {
	Listen    string
	PublicURL string
	Store     string
	Routers   string
}

type Settings struct {
	OutputMode string
	LogLevel   string
	LogFormat  string
	Timeout    time.Duration
	Retries    int

	Listen        string
	PublicURL     string
	SessionTTL    time.Duration
	SweepInterval time.Duration
	TerminalGrace time.Duration
	RebuildAfter  time.Duration

	StoreKind     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	RPCURL           string
	Routers          []string
	SlippageBps      int
	JupiterAPIKey    string
	TokenListURL     string
	DirectoryRefresh time.Duration
	ConfirmTimeout   time.Duration
	ConfirmPoll      time.Duration

	CachePath      string
	CacheLockPath  string
	LedgerPath     string
	LedgerLockPath string

	TelegramToken       string
	TelegramPollTimeout time.Duration

	IRCServer   string
	IRCPort     int
	IRCNick     string
	IRCTLS      bool
	IRCPassword string
	IRCChannels []string

	Pairs         string
	AllowedOwners []string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Listen    string `yaml:"listen"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`
	Sessions struct {
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
		Grace         string `yaml:"grace"`
		RebuildAfter  string `yaml:"rebuild_after"`
		Store         string `yaml:"store"`
		Redis         struct {
			Addr        string `yaml:"addr"`
			Password    string `yaml:"password"`
			PasswordEnv string `yaml:"password_env"`
			DB          *int   `yaml:"db"`
			Prefix      string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"sessions"`
	Solana struct {
		RPCURL         string `yaml:"rpc_url"`
		ConfirmTimeout string `yaml:"confirm_timeout"`
		ConfirmPoll    string `yaml:"confirm_poll"`
	} `yaml:"solana"`
	Swap struct {
		Routers          []string `yaml:"routers"`
		SlippageBps      *int     `yaml:"slippage_bps"`
		TokenListURL     string   `yaml:"token_list_url"`
		DirectoryRefresh string   `yaml:"directory_refresh"`
		Pairs            string   `yaml:"pairs"`
	} `yaml:"swap"`
	Cache struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Ledger struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"ledger"`
	Providers struct {
		Jupiter struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"jupiter"`
	} `yaml:"providers"`
	Telegram struct {
		Token       string `yaml:"token"`
		TokenEnv    string `yaml:"token_env"`
		PollTimeout string `yaml:"poll_timeout"`
	} `yaml:"telegram"`
	Chat struct {
		AllowedOwners []string `yaml:"allowed_owners"`
	} `yaml:"chat"`
	IRC struct {
		Server      string   `yaml:"server"`
		Port        int      `yaml:"port"`
		Nick        string   `yaml:"nick"`
		TLS         *bool    `yaml:"tls"`
		Password    string   `yaml:"password"`
		PasswordEnv string   `yaml:"password_env"`
		Channels    []string `yaml:"channels"`
	} `yaml:"irc"`
}

// BindGlobal registers the persistent flags shared by every command.
func BindGlobal(fs *pflag.FlagSet, f *GlobalFlags) {
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Dotenv file read before the environment")
	fs.BoolVar(&f.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&f.Plain, "plain", false, "Output plain text")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error, silent")
	fs.StringVar(&f.LogFormat, "log-format", "", "Log format: console or json")
	fs.StringVar(&f.Timeout, "timeout", "", "Outbound HTTP timeout (e.g. 10s)")
	fs.IntVar(&f.Retries, "retries", -1, "Retries for read-only provider calls")
}

func BindServe(fs *pflag.FlagSet, f *ServeFlags) {
	fs.StringVar(&f.Listen, "listen", "", "HTTP listen address")
	fs.StringVar(&f.PublicURL, "public-url", "", "Public base URL of the web pages")
	fs.StringVar(&f.Store, "store", "", "Session store: memory or redis")
	fs.StringVar(&f.Routers, "routers", "", "Comma separated routers in preference order")
}

func Load(flags GlobalFlags) (Settings, error) {
	return LoadServe(flags, ServeFlags{})
}

func LoadServe(flags GlobalFlags, serve ServeFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	env, err := newEnvSource(flags.EnvFile)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, env, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(env, &settings)

	if err := applyFlags(flags, serve, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.SessionTTL <= 0 {
		settings.SessionTTL = 30 * time.Minute
	}
	if settings.SlippageBps <= 0 {
		settings.SlippageBps = 50
	}
	if len(settings.Routers) == 0 {
		settings.Routers = []string{"jupiter", "raydium"}
	}
	settings.PublicURL = strings.TrimRight(settings.PublicURL, "/")

	return settings, validate(settings)
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:          "json",
		LogLevel:            "info",
		LogFormat:           "console",
		Timeout:             10 * time.Second,
		Retries:             1,
		Listen:              ":8080",
		PublicURL:           "http://localhost:8080",
		SessionTTL:          30 * time.Minute,
		SweepInterval:       time.Minute,
		TerminalGrace:       10 * time.Minute,
		RebuildAfter:        60 * time.Second,
		StoreKind:           "memory",
		RedisAddr:           "localhost:6379",
		RedisPrefix:         "chatswap:",
		RPCURL:              "https://api.mainnet-beta.solana.com",
		Routers:             []string{"jupiter", "raydium"},
		SlippageBps:         50,
		DirectoryRefresh:    time.Hour,
		ConfirmTimeout:      90 * time.Second,
		ConfirmPoll:         2 * time.Second,
		CachePath:           cachePath,
		CacheLockPath:       lockPath,
		LedgerPath:          filepath.Join(dir, "ledger.db"),
		LedgerLockPath:      filepath.Join(dir, "ledger.lock"),
		TelegramPollTimeout: 30 * time.Second,
		IRCNick:             "chatswap",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "chatswap", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "chatswap")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

// envSource reads the process environment first and falls back to values
// from the dotenv file.
type envSource struct {
	file map[string]string
}

func newEnvSource(path string) (envSource, error) {
	if strings.TrimSpace(path) == "" {
		return envSource{}, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return envSource{}, nil
		}
		return envSource{}, fmt.Errorf("read env file: %w", err)
	}
	return envSource{file: vals}, nil
}

func (e envSource) get(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return e.file[key]
}

func applyFileConfig(path string, env envSource, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	setString(&settings.LogLevel, cfg.Log.Level)
	setString(&settings.LogFormat, cfg.Log.Format)
	setString(&settings.Listen, cfg.Server.Listen)
	setString(&settings.PublicURL, cfg.Server.PublicURL)
	setString(&settings.StoreKind, strings.ToLower(cfg.Sessions.Store))
	setString(&settings.RedisAddr, cfg.Sessions.Redis.Addr)
	setString(&settings.RedisPassword, cfg.Sessions.Redis.Password)
	if cfg.Sessions.Redis.PasswordEnv != "" {
		settings.RedisPassword = env.get(cfg.Sessions.Redis.PasswordEnv)
	}
	if cfg.Sessions.Redis.DB != nil {
		settings.RedisDB = *cfg.Sessions.Redis.DB
	}
	setString(&settings.RedisPrefix, cfg.Sessions.Redis.Prefix)
	setString(&settings.RPCURL, cfg.Solana.RPCURL)
	if len(cfg.Swap.Routers) > 0 {
		settings.Routers = normalizeList(cfg.Swap.Routers)
	}
	if cfg.Swap.SlippageBps != nil {
		settings.SlippageBps = *cfg.Swap.SlippageBps
	}
	setString(&settings.TokenListURL, cfg.Swap.TokenListURL)
	setString(&settings.Pairs, cfg.Swap.Pairs)
	setString(&settings.CachePath, cfg.Cache.Path)
	setString(&settings.CacheLockPath, cfg.Cache.LockPath)
	setString(&settings.LedgerPath, cfg.Ledger.Path)
	setString(&settings.LedgerLockPath, cfg.Ledger.LockPath)
	setString(&settings.JupiterAPIKey, cfg.Providers.Jupiter.APIKey)
	if cfg.Providers.Jupiter.APIKeyEnv != "" {
		settings.JupiterAPIKey = env.get(cfg.Providers.Jupiter.APIKeyEnv)
	}
	setString(&settings.TelegramToken, cfg.Telegram.Token)
	if cfg.Telegram.TokenEnv != "" {
		settings.TelegramToken = env.get(cfg.Telegram.TokenEnv)
	}
	setString(&settings.IRCServer, cfg.IRC.Server)
	if cfg.IRC.Port != 0 {
		settings.IRCPort = cfg.IRC.Port
	}
	setString(&settings.IRCNick, cfg.IRC.Nick)
	if cfg.IRC.TLS != nil {
		settings.IRCTLS = *cfg.IRC.TLS
	}
	setString(&settings.IRCPassword, cfg.IRC.Password)
	if cfg.IRC.PasswordEnv != "" {
		settings.IRCPassword = env.get(cfg.IRC.PasswordEnv)
	}
	if len(cfg.IRC.Channels) > 0 {
		settings.IRCChannels = normalizeList(cfg.IRC.Channels)
	}
	if len(cfg.Chat.AllowedOwners) > 0 {
		settings.AllowedOwners = normalizeList(cfg.Chat.AllowedOwners)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", cfg.Timeout, &settings.Timeout},
		{"sessions.ttl", cfg.Sessions.TTL, &settings.SessionTTL},
		{"sessions.sweep_interval", cfg.Sessions.SweepInterval, &settings.SweepInterval},
		{"sessions.grace", cfg.Sessions.Grace, &settings.TerminalGrace},
		{"sessions.rebuild_after", cfg.Sessions.RebuildAfter, &settings.RebuildAfter},
		{"solana.confirm_timeout", cfg.Solana.ConfirmTimeout, &settings.ConfirmTimeout},
		{"solana.confirm_poll", cfg.Solana.ConfirmPoll, &settings.ConfirmPoll},
		{"swap.directory_refresh", cfg.Swap.DirectoryRefresh, &settings.DirectoryRefresh},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout, &settings.TelegramPollTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(env envSource, settings *Settings) {
	str := func(key string, dst *string) {
		if v := env.get(envPrefix + key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := env.get(envPrefix + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	num := func(key string, dst *int) {
		if v := env.get(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Names the original bot deployment used.
	if v := env.get("BOT_TOKEN"); v != "" {
		settings.TelegramToken = v
	}
	if v := env.get("DOMAIN"); v != "" {
		settings.PublicURL = v
	}

	if v := env.get(envPrefix + "OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	str("LOG_LEVEL", &settings.LogLevel)
	str("LOG_FORMAT", &settings.LogFormat)
	dur("TIMEOUT", &settings.Timeout)
	num("RETRIES", &settings.Retries)
	str("LISTEN", &settings.Listen)
	str("PUBLIC_URL", &settings.PublicURL)
	dur("SESSION_TTL", &settings.SessionTTL)
	dur("SWEEP_INTERVAL", &settings.SweepInterval)
	dur("TERMINAL_GRACE", &settings.TerminalGrace)
	dur("REBUILD_AFTER", &settings.RebuildAfter)
	if v := env.get(envPrefix + "STORE"); v != "" {
		settings.StoreKind = strings.ToLower(v)
	}
	str("REDIS_ADDR", &settings.RedisAddr)
	str("REDIS_PASSWORD", &settings.RedisPassword)
	num("REDIS_DB", &settings.RedisDB)
	str("REDIS_PREFIX", &settings.RedisPrefix)
	str("RPC_URL", &settings.RPCURL)
	if v := env.get(envPrefix + "ROUTERS"); v != "" {
		settings.Routers = normalizeList(strings.Split(v, ","))
	}
	num("SLIPPAGE_BPS", &settings.SlippageBps)
	str("JUPITER_API_KEY", &settings.JupiterAPIKey)
	str("TOKEN_LIST_URL", &settings.TokenListURL)
	dur("DIRECTORY_REFRESH", &settings.DirectoryRefresh)
	dur("CONFIRM_TIMEOUT", &settings.ConfirmTimeout)
	dur("CONFIRM_POLL", &settings.ConfirmPoll)
	str("CACHE_PATH", &settings.CachePath)
	str("CACHE_LOCK_PATH", &settings.CacheLockPath)
	str("LEDGER_PATH", &settings.LedgerPath)
	str("LEDGER_LOCK_PATH", &settings.LedgerLockPath)
	str("TELEGRAM_TOKEN", &settings.TelegramToken)
	dur("TELEGRAM_POLL_TIMEOUT", &settings.TelegramPollTimeout)
	str("IRC_SERVER", &settings.IRCServer)
	num("IRC_PORT", &settings.IRCPort)
	str("IRC_NICK", &settings.IRCNick)
	if v := env.get(envPrefix + "IRC_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.IRCTLS = b
		}
	}
	str("IRC_PASSWORD", &settings.IRCPassword)
	if v := env.get(envPrefix + "IRC_CHANNELS"); v != "" {
		settings.IRCChannels = normalizeList(strings.Split(v, ","))
	}
	str("PAIRS", &settings.Pairs)
	if v := env.get(envPrefix + "ALLOWED_OWNERS"); v != "" {
		settings.AllowedOwners = normalizeList(strings.Split(v, ","))
	}
}

func applyFlags(flags GlobalFlags, serve ServeFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	setString(&settings.LogLevel, flags.LogLevel)
	setString(&settings.LogFormat, flags.LogFormat)
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}

	setString(&settings.Listen, serve.Listen)
	setString(&settings.PublicURL, serve.PublicURL)
	setString(&settings.StoreKind, strings.ToLower(serve.Store))
	if strings.TrimSpace(serve.Routers) != "" {
		settings.Routers = normalizeList(strings.Split(serve.Routers, ","))
	}
	return nil
}

func validate(s Settings) error {
	if s.OutputMode != "json" && s.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if s.StoreKind != "memory" && s.StoreKind != "redis" {
		return fmt.Errorf("session store must be memory or redis, got %q", s.StoreKind)
	}
	for _, r := range s.Routers {
		if r != "jupiter" && r != "raydium" {
			return fmt.Errorf("unknown router %q", r)
		}
	}
	if s.SlippageBps > 10_000 {
		return fmt.Errorf("slippage_bps must be at most 10000")
	}
	if s.RebuildAfter >= s.SessionTTL {
		return fmt.Errorf("rebuild_after must be shorter than the session ttl")
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
