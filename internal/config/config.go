// Package config loads hcpfetch settings. Sources apply in order, later
// ones winning: built-in defaults, an optional YAML file, a .env file, and
// HCP_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
	"github.com/koustreak/hcpfetch/internal/hcp"
	"github.com/koustreak/hcpfetch/internal/logger"
	"go.yaml.in/yaml/v3"
)

// Config is the full application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// StoreConfig describes the object storage backend.
type StoreConfig struct {
	Provider  string `yaml:"provider"` // s3, minio
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Anonymous bool   `yaml:"anonymous"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"`
}

// ClientConfig holds the client defaults.
type ClientConfig struct {
	Bucket      string `yaml:"bucket"`
	LocalRoot   string `yaml:"local_root"`
	MaxKeys     int    `yaml:"max_keys"`
	Concurrency int    `yaml:"concurrency"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns S3 access to the HCP open-access bucket with credentials
// taken from the SDK's default chain. Anonymous access is opt-in.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Provider: string(filestore.ProviderS3),
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Client: ClientConfig{
			Bucket:      hcp.DefaultBucket,
			LocalRoot:   hcp.DefaultLocalRoot,
			MaxKeys:     hcp.MaxKeysLimit,
			Concurrency: 1,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Minute,
		},
	}
}

// LoadOptions names the files Load reads. Empty names are skipped.
type LoadOptions struct {
	// File is a YAML config file. It must exist when named.
	File string

	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Load builds a Config from defaults, opts.File, opts.EnvFile and the
// environment, then validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		f, err := os.Open(opts.File)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", opts.File, err)
		}
		defer f.Close()

		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		// godotenv never overrides variables already set.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	// A key pair from any source means a signed client.
	if cfg.Store.AccessKey != "" {
		cfg.Store.Anonymous = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML from r onto cfg. Unknown keys are rejected.
func (c *Config) decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// applyEnv overlays HCP_* variables found through lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HCP_LOG_LEVEL":   &c.Log.Level,
		"HCP_LOG_FORMAT":  &c.Log.Format,
		"HCP_PROVIDER":    &c.Store.Provider,
		"HCP_ENDPOINT":    &c.Store.Endpoint,
		"HCP_REGION":      &c.Store.Region,
		"HCP_ACCESS_KEY":  &c.Store.AccessKey,
		"HCP_SECRET_KEY":  &c.Store.SecretKey,
		"HCP_BUCKET":      &c.Client.Bucket,
		"HCP_LOCAL_ROOT":  &c.Client.LocalRoot,
		"HCP_SERVER_ADDR": &c.Server.Addr,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"HCP_ANONYMOUS":  &c.Store.Anonymous,
		"HCP_USE_SSL":    &c.Store.UseSSL,
		"HCP_PATH_STYLE": &c.Store.PathStyle,
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, name+" must be a boolean", err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"HCP_MAX_KEYS":    &c.Client.MaxKeys,
		"HCP_CONCURRENCY": &c.Client.Concurrency,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, name+" must be an integer", err)
			}
			*dst = n
		}
	}

	return nil
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	switch filestore.Provider(strings.ToLower(c.Store.Provider)) {
	case filestore.ProviderS3, filestore.ProviderMinIO:
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unknown storage provider %q", c.Store.Provider)
	}
	if c.Client.Bucket == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket must not be empty")
	}
	if c.Client.MaxKeys < 1 || c.Client.MaxKeys > hcp.MaxKeysLimit {
		return errs.Newf(errs.ErrKindInvalidInput, "max_keys must be in [1, %d], got %d", hcp.MaxKeysLimit, c.Client.MaxKeys)
	}
	if c.Client.Concurrency < 1 {
		return errs.Newf(errs.ErrKindInvalidInput, "concurrency must be at least 1, got %d", c.Client.Concurrency)
	}
	return nil
}

// FileStore converts the store section for filestore drivers.
func (c *Config) FileStore() *filestore.Config {
	return &filestore.Config{
		Provider:  filestore.Provider(strings.ToLower(c.Store.Provider)),
		Endpoint:  c.Store.Endpoint,
		AccessKey: c.Store.AccessKey,
		SecretKey: c.Store.SecretKey,
		Anonymous: c.Store.Anonymous,
		UseSSL:    c.Store.UseSSL,
		Region:    c.Store.Region,
		PathStyle: c.Store.PathStyle,
	}
}

// Logger converts the log section, writing to out.
func (c *Config) Logger(out io.Writer) *logger.Config {
	return &logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		TimeFormat: "rfc3339",
		Output:     out,
	}
}

// ClientOptions converts the client section into hcp.Client options.
func (c *Config) ClientOptions() []hcp.Option {
	return []hcp.Option{
		hcp.WithDefaultBucket(c.Client.Bucket),
		hcp.WithLocalRoot(c.Client.LocalRoot),
		hcp.WithMaxKeys(c.Client.MaxKeys),
		hcp.WithConcurrency(c.Client.Concurrency),
	}
}
