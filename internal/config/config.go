package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/retention"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix     = "SYSMETRICSD"
	DefaultConfigName    = "sysmetricsd"
	DefaultDatabase      = "/var/lib/sysmetricsd/metrics.db"
	DefaultInterval      = 30 * time.Second
	DefaultPruneInterval = 24 * time.Hour
	DefaultLifetime      = "365d"
	DefaultLogLevel      = "info"
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 100 * time.Millisecond
	DefaultMachineState  = "Active"

	minInterval = time.Second
)

type Config struct {
	Database      string        `mapstructure:"database"`
	BackupDir     string        `mapstructure:"backup_dir"`
	Interval      time.Duration `mapstructure:"interval"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
	LifetimeSpec  string        `mapstructure:"lifetime"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFile       string        `mapstructure:"log_file"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	Processes     bool          `mapstructure:"processes"`
	NVML          bool          `mapstructure:"nvml"`
	MachineState  string        `mapstructure:"machine_state"`

	// Lifetime is LifetimeSpec parsed by Load.
	Lifetime time.Duration `mapstructure:"-"`
	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

type validationError struct {
	field  string
	value  interface{}
	reason string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.field, e.reason, e.value)
}

func (e *validationError) Field() string      { return e.field }
func (e *validationError) Value() interface{} { return e.value }
func (e *validationError) Reason() string     { return e.reason }

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("backup_dir", "")
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("prune_interval", DefaultPruneInterval)
	v.SetDefault("lifetime", DefaultLifetime)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("retry_attempts", DefaultRetryAttempts)
	v.SetDefault("retry_backoff", DefaultRetryBackoff)
	v.SetDefault("processes", true)
	v.SetDefault("nvml", true)
	v.SetDefault("machine_state", DefaultMachineState)
}

// Load reads configuration from defaults, the config file, the
// environment and bound flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		if err := bindFlags(v, o.flags); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	explicit := o.configPath
	if explicit == "" {
		explicit = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if explicit != "" {
		path, err := homedir.Expand(explicit)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindFlags maps dashed flag names onto underscored keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})

	return bindErr
}

func (c *Config) resolve() error {
	errFactory := errors.New()

	var err error
	if c.Database, err = homedir.Expand(c.Database); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if c.LogFile, err = homedir.Expand(c.LogFile); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if c.BackupDir == "" && c.Database != "" {
		c.BackupDir = filepath.Join(filepath.Dir(c.Database), "backups")
	}
	if c.BackupDir, err = homedir.Expand(c.BackupDir); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	lifetime, err := retention.ParseLifetime(c.LifetimeSpec)
	if err != nil {
		return err
	}
	c.Lifetime = lifetime

	return c.Validate()
}

// Validate checks the loaded values and returns the first invalid one.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if strings.TrimSpace(c.Database) == "" {
		return errFactory.Wrap(errors.ErrInvalidConfig,
			&validationError{field: "database", value: c.Database, reason: "must not be empty"})
	}

	if c.Interval < minInterval {
		return errFactory.Wrap(errors.ErrInvalidInterval,
			&validationError{field: "interval", value: c.Interval, reason: "must be at least 1s"})
	}

	if c.PruneInterval < minInterval {
		return errFactory.Wrap(errors.ErrInvalidInterval,
			&validationError{field: "prune_interval", value: c.PruneInterval, reason: "must be at least 1s"})
	}

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.Wrap(errors.ErrInvalidLogLevel,
			&validationError{field: "log_level", value: c.LogLevel, reason: "must be debug, info, warning or error"})
	}

	if c.RetryAttempts < 1 {
		return errFactory.Wrap(errors.ErrInvalidConfig,
			&validationError{field: "retry_attempts", value: c.RetryAttempts, reason: "must be at least 1"})
	}

	if c.RetryBackoff < 0 {
		return errFactory.Wrap(errors.ErrInvalidConfig,
			&validationError{field: "retry_backoff", value: c.RetryBackoff, reason: "must not be negative"})
	}

	if strings.TrimSpace(c.MachineState) == "" {
		return errFactory.Wrap(errors.ErrInvalidConfig,
			&validationError{field: "machine_state", value: c.MachineState, reason: "must not be blank"})
	}

	return nil
}
