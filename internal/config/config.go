// Package config loads service configuration from a YAML file, a .env file
// and COT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. COT_SERVER_ADDR.
const EnvPrefix = "COT"

type Config struct {
	Environment string        `mapstructure:"environment" yaml:"environment"`
	Server      ServerConfig  `mapstructure:"server" yaml:"server"`
	Database    DBConfig      `mapstructure:"database" yaml:"database"`
	Assets      AssetsConfig  `mapstructure:"assets" yaml:"assets"`
	Storage     StorageConfig `mapstructure:"storage" yaml:"storage"`
	Photos      PhotosConfig  `mapstructure:"photos" yaml:"photos"`
	Mail        MailConfig    `mapstructure:"mail" yaml:"mail"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Log         LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins    []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AssetsConfig names the card templates and the ordered font candidates.
type AssetsConfig struct {
	WithPhotoTemplate string   `mapstructure:"with_photo_template" yaml:"with_photo_template"`
	AnonTemplate      string   `mapstructure:"anon_template" yaml:"anon_template"`
	Fonts             []string `mapstructure:"fonts" yaml:"fonts"`
	// FontsDir is watched for changes; the font cache is flushed on writes.
	FontsDir string `mapstructure:"fonts_dir" yaml:"fonts_dir"`
}

type StorageConfig struct {
	CardsDir  string `mapstructure:"cards_dir" yaml:"cards_dir"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
	TmpDir    string `mapstructure:"tmp_dir" yaml:"tmp_dir"`
}

// PhotosConfig limits submitted photos. MaxPixels is checked against the
// image header before anything is decoded.
type PhotosConfig struct {
	AllowRemote bool `mapstructure:"allow_remote" yaml:"allow_remote"`
	MaxPixels   int  `mapstructure:"max_pixels" yaml:"max_pixels"`
}

// MailConfig selects the outbound mail driver: "smtp" or "log".
type MailConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	From     string `mapstructure:"from" yaml:"from"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter     string  `mapstructure:"exporter" yaml:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name"`
}

type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the development configuration.
func Defaults() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Addr: ":8000",
			CORSOrigins: []string{
				"http://localhost:8000",
				"http://127.0.0.1:8000",
			},
			MaxUploadBytes: 8 << 20,
		},
		Database: DBConfig{Path: "chain_of_trust.db"},
		Assets: AssetsConfig{
			WithPhotoTemplate: "assets/Chain_of_trust_template.png",
			AnonTemplate:      "assets/Chain_of_trust_anon.png",
			Fonts: []string{
				"assets/fonts/Helvetica.ttc",
				"assets/fonts/DejaVuSans.ttf",
			},
			FontsDir: "assets/fonts",
		},
		Storage: StorageConfig{
			CardsDir:  "cards",
			StaticDir: "static",
			TmpDir:    "",
		},
		Photos: PhotosConfig{MaxPixels: 25_000_000},
		Mail: MailConfig{
			Driver: "log",
			Port:   587,
			From:   "The Lab <lab@chainoftrust.local>",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "chainoftrust",
		},
		Log: LogConfig{Level: "info"},
	}
}

// IsProduction reports whether the environment is "production".
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the fields the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Assets.WithPhotoTemplate == "" || c.Assets.AnonTemplate == "" {
		errs = append(errs, errors.New("assets.with_photo_template and assets.anon_template are required"))
	}
	if c.Storage.CardsDir == "" {
		errs = append(errs, errors.New("storage.cards_dir is required"))
	}
	if c.Photos.MaxPixels <= 0 {
		errs = append(errs, errors.New("photos.max_pixels must be positive"))
	}
	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" {
			errs = append(errs, errors.New("mail.host is required for the smtp driver"))
		}
		if c.Mail.From == "" {
			errs = append(errs, errors.New("mail.from is required for the smtp driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported mail.driver %q", c.Mail.Driver))
	}
	return errors.Join(errs...)
}

// SetDefaults registers every default on v so env overrides work for keys
// absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("environment", d.Environment)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("assets.with_photo_template", d.Assets.WithPhotoTemplate)
	v.SetDefault("assets.anon_template", d.Assets.AnonTemplate)
	v.SetDefault("assets.fonts", d.Assets.Fonts)
	v.SetDefault("assets.fonts_dir", d.Assets.FontsDir)
	v.SetDefault("storage.cards_dir", d.Storage.CardsDir)
	v.SetDefault("storage.static_dir", d.Storage.StaticDir)
	v.SetDefault("storage.tmp_dir", d.Storage.TmpDir)
	v.SetDefault("photos.allow_remote", d.Photos.AllowRemote)
	v.SetDefault("photos.max_pixels", d.Photos.MaxPixels)
	v.SetDefault("mail.driver", d.Mail.Driver)
	v.SetDefault("mail.host", d.Mail.Host)
	v.SetDefault("mail.port", d.Mail.Port)
	v.SetDefault("mail.username", d.Mail.Username)
	v.SetDefault("mail.password", d.Mail.Password)
	v.SetDefault("mail.from", d.Mail.From)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
}

// Load reads .env (if present), then the YAML file at path (optional when
// empty), then COT_* environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".chainoftrust")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories. An existing file is left untouched unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
