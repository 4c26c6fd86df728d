package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bilibili BilibiliConfig `mapstructure:"bilibili" yaml:"bilibili"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg" yaml:"ffmpeg"`

	Port string `mapstructure:"port" yaml:"port"`
}

type BilibiliConfig struct {
	VideoInfoURL   string        `mapstructure:"video_info_url" yaml:"video_info_url"`
	VideoStreamURL string        `mapstructure:"video_stream_url" yaml:"video_stream_url"`
	SessData       string        `mapstructure:"sessdata" yaml:"sessdata"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Referer        string        `mapstructure:"referer" yaml:"referer"`
	Origin         string        `mapstructure:"origin" yaml:"origin"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryMax       int           `mapstructure:"retry_max" yaml:"retry_max"`
}

type DownloadConfig struct {
	OutDir  string `mapstructure:"out_dir" yaml:"out_dir"`
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`

	RetryLimit       uint          `mapstructure:"retry_limit" yaml:"retry_limit"`
	BaseDelay        time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	StreamRetryPause time.Duration `mapstructure:"stream_retry_pause" yaml:"stream_retry_pause"`
	ChunkSize        int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	VideoExt  string `mapstructure:"video_ext" yaml:"video_ext"`
	AudioExt  string `mapstructure:"audio_ext" yaml:"audio_ext"`
	OutputExt string `mapstructure:"output_ext" yaml:"output_ext"`

	KeepTemp bool `mapstructure:"keep_temp" yaml:"keep_temp"`
	SaveInfo bool `mapstructure:"save_info" yaml:"save_info"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
	MaxSizeMB     int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type StoreConfig struct {
	// Driver is "sqlite" (default) or "pgx"
	Driver     string `mapstructure:"driver" yaml:"driver"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	DSN        string `mapstructure:"dsn" yaml:"dsn"`
}

type FFmpegConfig struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")

	v.SetDefault("bilibili.video_info_url", "https://api.bilibili.com/x/web-interface/view")
	v.SetDefault("bilibili.video_stream_url", "https://api.bilibili.com/x/player/playurl")
	v.SetDefault("bilibili.sessdata", "")
	v.SetDefault("bilibili.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("bilibili.referer", "https://www.bilibili.com")
	v.SetDefault("bilibili.origin", "https://www.bilibili.com")
	v.SetDefault("bilibili.timeout", "15s")
	v.SetDefault("bilibili.retry_max", 3)

	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.temp_dir", "./downloads/.tmp")
	v.SetDefault("download.retry_limit", 5)
	v.SetDefault("download.base_delay", "1s")
	v.SetDefault("download.stream_retry_pause", "1s")
	v.SetDefault("download.chunk_size", 4*1024*1024)
	v.SetDefault("download.connect_timeout", "10s")
	v.SetDefault("download.read_timeout", "30s")
	v.SetDefault("download.video_ext", ".m4s")
	v.SetDefault("download.audio_ext", ".m4s")
	v.SetDefault("download.output_ext", ".mp4")
	v.SetDefault("download.keep_temp", false)
	v.SetDefault("download.save_info", true)

	v.SetDefault("log.path", "gobili.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("log.max_size_mb", 5)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/gobili.db")
	v.SetDefault("store.dsn", "")

	v.SetDefault("ffmpeg.binary", "ffmpeg")
}

// Load reads path (or the default locations when path is empty). A missing
// default file is not an error: the CLI works on defaults and env vars alone.
func Load(path string) (*Config, error) {
	explicit := path != ""

	if !explicit {
		path = "config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// FALLBACK: containers mount the config under /config
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				path = ""
			}
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("GOBILI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Bilibili.VideoInfoURL == "" || c.Bilibili.VideoStreamURL == "" {
		return errors.New("bilibili api urls must be configured")
	}

	if c.Download.RetryLimit == 0 {
		fmt.Println("Warning: download.retry_limit is 0, a single network error will fail a stream")
	}

	if c.Download.ChunkSize <= 0 {
		c.Download.ChunkSize = 4 * 1024 * 1024
	}

	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}

	if c.Download.TempDir == "" {
		c.Download.TempDir = c.Download.OutDir + "/.tmp"
	}

	switch c.Store.Driver {
	case "", "sqlite":
		c.Store.Driver = "sqlite"
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case "pgx", "postgres":
		c.Store.Driver = "pgx"
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the pgx driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	return nil
}
