// Package config provides layered configuration loading for the Scribe service.
// It merges Defaults -> Environment Variables, then validates the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/haukened/scribe/internal/codec"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped to keys,
// so SCRIBE_DATA_DIR sets data_dir.
const EnvPrefix = "SCRIBE_"

// Config holds the merged runtime configuration for the Scribe service.
type Config struct {
	Addr                 string        `koanf:"addr" validate:"ip_port"`
	DataDir              string        `koanf:"data_dir" validate:"safepath"`
	MaxAttachmentBytes   ByteSize      `koanf:"max_attachment_bytes" validate:"gt=0"`
	ChunkSize            ByteSize      `koanf:"chunk_size" validate:"gt=0"`
	MaxRequestBytes      ByteSize      `koanf:"max_request_bytes" validate:"gt=0"`
	AllowedExtensions    []string      `koanf:"allowed_extensions" validate:"dive,startswith=."`
	FragmentBackend      string        `koanf:"fragment_backend" validate:"oneof=sqlite filesystem"`
	UploadTimeout        time.Duration `koanf:"upload_timeout" validate:"gt=0"`
	ChunkTimeout         time.Duration `koanf:"chunk_timeout" validate:"gt=0"`
	JanitorInterval      time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	MetricsFlushInterval time.Duration `koanf:"metrics_flush_interval" validate:"gt=0"`
	MetricsToken         string        `koanf:"metrics_token"`
	LogLevel             string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat            string        `koanf:"log_format" validate:"oneof=text json"`
}

// DefaultAppConfig is the lowest configuration layer.
var DefaultAppConfig = Config{
	Addr:                 ":8080",
	DataDir:              "./data",
	MaxAttachmentBytes:   200 * MiB,
	ChunkSize:            1536 * KiB,
	MaxRequestBytes:      4 * MiB,
	AllowedExtensions:    []string{".zip", ".pdf", ".jpg", ".png", ".txt"},
	FragmentBackend:      "sqlite",
	UploadTimeout:        30 * time.Minute,
	ChunkTimeout:         2 * time.Minute,
	JanitorInterval:      10 * time.Minute,
	MetricsFlushInterval: 30 * time.Second,
	MetricsToken:         "",
	LogLevel:             "info",
	LogFormat:            "text",
}

// Swappable for tests.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("safepath", safePath)
	}
)

// Load builds the configuration from defaults overlaid with SCRIBE_* environment
// variables and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
				StringToExtensions(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.checkChunking(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkChunking enforces the relations between the chunk size and the other limits.
func (c *Config) checkChunking() error {
	if err := codec.ValidateChunkSize(int(c.ChunkSize)); err != nil {
		return errors.New("chunk_size must be a multiple of 3")
	}
	if c.ChunkSize > c.MaxAttachmentBytes {
		return errors.New("chunk_size must not exceed max_attachment_bytes")
	}
	if int64(codec.EncodedLen(int(c.ChunkSize))) > int64(c.MaxRequestBytes) {
		return errors.New("encoded chunk_size must fit within max_request_bytes")
	}
	return nil
}

// SQLiteDSN returns the DSN of the database file inside DataDir.
func (c *Config) SQLiteDSN() string {
	path := strings.TrimSuffix(c.DataDir, "/") + "/scribe.db"
	return "file:" + path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// FragmentDir is the root of the filesystem fragment backend.
func (c *Config) FragmentDir() string {
	return filepath.Join(c.DataDir, "fragments")
}

// validIPPort accepts "[ip]:port" where the host is empty or a literal IP and the
// port is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if addr == "" || strings.ContainsAny(addr, " \t") {
		return false
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// safePath rejects empty, root and current-directory paths, and any path with a
// parent segment.
func safePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != "/"
}
