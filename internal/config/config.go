package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	appName = "lyricsync"

	DefaultTimeout       = 12 * time.Second
	DefaultLimit         = 5
	DefaultLineDuration  = 4.0
	DefaultMaxEntries    = 100
	DefaultMaxBytes      = 8 << 20
	DefaultCacheTTL      = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
	DefaultI3Signal      = 21
)

// 环境变量，优先级高于配置文件
const (
	EnvAIAPIKey        = "LYRICSYNC_AI_API_KEY"
	EnvTencentSecretID = "LYRICSYNC_TENCENT_SECRET_ID"
	EnvTencentSecret   = "LYRICSYNC_TENCENT_SECRET_KEY"
	EnvNeteaseCookie   = "NETEASE_COOKIE"
)

// TomlConfig TOML配置文件结构
type TomlConfig struct {
	App struct {
		SocketPath    string `toml:"socket_path"`
		StorageDir    string `toml:"storage_dir"`
		WidgetFile    string `toml:"widget_file"`
		ExclusionFile string `toml:"exclusion_file"`
		LogLevel      string `toml:"log_level"`
	} `toml:"app"`

	Player struct {
		Backend string `toml:"backend"`
		BusName string `toml:"bus_name"`
	} `toml:"player"`

	Search struct {
		Providers        []string `toml:"providers"`
		Timeout          string   `toml:"timeout"`
		Limit            int      `toml:"limit"`
		Strict           *bool    `toml:"strict"`
		LineDuration     float64  `toml:"line_duration"`
		AdaptiveProgress *bool    `toml:"adaptive_progress"`
		NeteaseCookie    string   `toml:"netease_cookie"`
	} `toml:"search"`

	Cache struct {
		MaxEntries    int    `toml:"max_entries"`
		MaxBytes      int64  `toml:"max_bytes"`
		TTL           string `toml:"ttl"`
		SweepInterval string `toml:"sweep_interval"`
	} `toml:"cache"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
		TTL      string `toml:"ttl"`
	} `toml:"redis"`

	AI struct {
		ModuleName string `toml:"module_name"`
		Model      string `toml:"model"`
		APIKey     string `toml:"api_key"`
		BaseURL    string `toml:"base_url"` // for OpenAI
	} `toml:"ai"`

	Translate struct {
		Enabled   *bool  `toml:"enabled"`
		Target    string `toml:"target"`
		SecretID  string `toml:"secret_id"`
		SecretKey string `toml:"secret_key"`
		Region    string `toml:"region"`
	} `toml:"translate"`

	I3Blocks struct {
		Enabled         *bool  `toml:"enabled"`
		Signal          int    `toml:"signal"`
		RefreshInterval string `toml:"refresh_interval"`
	} `toml:"i3blocks"`

	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

type AppConfig struct {
	SocketPath    string
	StorageDir    string
	WidgetFile    string
	ExclusionFile string
	LogLevel      string
}

type PlayerConfig struct {
	Backend string
	BusName string
}

type SearchConfig struct {
	Providers        []string
	Timeout          time.Duration
	Limit            int
	Strict           bool
	LineDuration     float64
	AdaptiveProgress bool
	NeteaseCookie    string
}

type CacheConfig struct {
	MaxEntries    int
	MaxBytes      int64
	TTL           time.Duration
	SweepInterval time.Duration
}

// RedisConfig Redis配置，Addr 为空时不启用
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// AIConfig AI配置，APIKey 为空时不启用
type AIConfig struct {
	ModuleName string
	Model      string
	APIKey     string
	BaseURL    string
}

type TranslateConfig struct {
	Enabled bool
	// Target 为空时中文歌词译为英文，其余译为中文
	Target    string
	SecretID  string
	SecretKey string
	Region    string
}

type I3BlocksConfig struct {
	Enabled         bool
	Signal          int
	RefreshInterval time.Duration
}

// MetricsConfig Addr 为空时不启用
type MetricsConfig struct {
	Addr string
}

// Config 主配置结构
type Config struct {
	App       AppConfig
	Player    PlayerConfig
	Search    SearchConfig
	Cache     CacheConfig
	Redis     RedisConfig
	AI        AIConfig
	Translate TranslateConfig
	I3Blocks  I3BlocksConfig
	Metrics   MetricsConfig
}

// Path 返回默认配置文件路径
func Path() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			SocketPath:    filepath.Join(xdg.RuntimeDir, appName+".sock"),
			StorageDir:    filepath.Join(xdg.DataHome, appName, "lyrics"),
			WidgetFile:    filepath.Join(xdg.RuntimeDir, appName+".json"),
			ExclusionFile: filepath.Join(xdg.DataHome, appName, "excluded"),
			LogLevel:      "info",
		},
		Player: PlayerConfig{Backend: "mpris"},
		Search: SearchConfig{
			Providers:    []string{"lrclib", "netease"},
			Timeout:      DefaultTimeout,
			Limit:        DefaultLimit,
			LineDuration: DefaultLineDuration,
		},
		Cache: CacheConfig{
			MaxEntries:    DefaultMaxEntries,
			MaxBytes:      DefaultMaxBytes,
			TTL:           DefaultCacheTTL,
			SweepInterval: DefaultSweepInterval,
		},
		Redis:     RedisConfig{Prefix: appName + ":", TTL: DefaultCacheTTL},
		AI:        AIConfig{ModuleName: "gemini"},
		Translate: TranslateConfig{Region: "ap-guangzhou"},
		I3Blocks: I3BlocksConfig{
			Signal:          DefaultI3Signal,
			RefreshInterval: 10 * time.Second,
		},
	}
}

// loadTomlConfig 加载TOML配置文件，文件不存在时返回空配置
func loadTomlConfig(path string) (*TomlConfig, error) {
	var tc TomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("path", path).Msg("Config file not found, using defaults")
			return &tc, nil
		}
		return nil, err
	}
	log.Info().Str("path", path).Msg("Loaded config")
	return &tc, nil
}

// Load 读取配置文件（path 为空时使用默认路径）和环境变量，覆盖默认值
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	// .env 文件可选
	_ = godotenv.Load()

	tc, err := loadTomlConfig(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.merge(tc)
	cfg.applyEnv()
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt[T int | int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, key, v string) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return
	}
	*dst = d
}

func (c *Config) merge(tc *TomlConfig) {
	setString(&c.App.SocketPath, tc.App.SocketPath)
	setString(&c.App.StorageDir, tc.App.StorageDir)
	setString(&c.App.WidgetFile, tc.App.WidgetFile)
	setString(&c.App.ExclusionFile, tc.App.ExclusionFile)
	setString(&c.App.LogLevel, tc.App.LogLevel)

	setString(&c.Player.Backend, tc.Player.Backend)
	setString(&c.Player.BusName, tc.Player.BusName)

	if len(tc.Search.Providers) > 0 {
		c.Search.Providers = tc.Search.Providers
	}
	setDuration(&c.Search.Timeout, "search.timeout", tc.Search.Timeout)
	setInt(&c.Search.Limit, tc.Search.Limit)
	setBool(&c.Search.Strict, tc.Search.Strict)
	if tc.Search.LineDuration > 0 {
		c.Search.LineDuration = tc.Search.LineDuration
	}
	setBool(&c.Search.AdaptiveProgress, tc.Search.AdaptiveProgress)
	setString(&c.Search.NeteaseCookie, tc.Search.NeteaseCookie)

	setInt(&c.Cache.MaxEntries, tc.Cache.MaxEntries)
	setInt(&c.Cache.MaxBytes, tc.Cache.MaxBytes)
	setDuration(&c.Cache.TTL, "cache.ttl", tc.Cache.TTL)
	setDuration(&c.Cache.SweepInterval, "cache.sweep_interval", tc.Cache.SweepInterval)

	setString(&c.Redis.Addr, tc.Redis.Addr)
	setString(&c.Redis.Password, tc.Redis.Password)
	setInt(&c.Redis.DB, tc.Redis.DB)
	setString(&c.Redis.Prefix, tc.Redis.Prefix)
	setDuration(&c.Redis.TTL, "redis.ttl", tc.Redis.TTL)

	setString(&c.AI.ModuleName, tc.AI.ModuleName)
	setString(&c.AI.Model, tc.AI.Model)
	setString(&c.AI.APIKey, tc.AI.APIKey)
	setString(&c.AI.BaseURL, tc.AI.BaseURL)

	setBool(&c.Translate.Enabled, tc.Translate.Enabled)
	setString(&c.Translate.Target, tc.Translate.Target)
	setString(&c.Translate.SecretID, tc.Translate.SecretID)
	setString(&c.Translate.SecretKey, tc.Translate.SecretKey)
	setString(&c.Translate.Region, tc.Translate.Region)

	setBool(&c.I3Blocks.Enabled, tc.I3Blocks.Enabled)
	setInt(&c.I3Blocks.Signal, tc.I3Blocks.Signal)
	setDuration(&c.I3Blocks.RefreshInterval, "i3blocks.refresh_interval", tc.I3Blocks.RefreshInterval)

	setString(&c.Metrics.Addr, tc.Metrics.Addr)
}

func (c *Config) applyEnv() {
	setString(&c.AI.APIKey, os.Getenv(EnvAIAPIKey))
	setString(&c.Translate.SecretID, os.Getenv(EnvTencentSecretID))
	setString(&c.Translate.SecretKey, os.Getenv(EnvTencentSecret))
	setString(&c.Search.NeteaseCookie, os.Getenv(EnvNeteaseCookie))
}
