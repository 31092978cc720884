package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/aryankumar/bmcpass/internal/changer"
	"github.com/aryankumar/bmcpass/internal/executor"
	"github.com/aryankumar/bmcpass/internal/util"
)

const (
	defaultConfigName = ".bmcpass"
	defaultConfigDir  = ".bmcpass"

	// EnvPrefix prefixes every environment variable override
	EnvPrefix = "BMCPASS"

	// DefaultBackoffMax caps the retry delay when backoff is enabled
	DefaultBackoffMax = 10 * time.Second
)

// Configuration keys, also used for flag binding
const (
	KeyMethod           = "method"
	KeyTimeout          = "defaults.timeout"
	KeyParallel         = "defaults.parallel"
	KeyRetries          = "defaults.retries"
	KeyBackoff          = "defaults.backoff"
	KeyBackoffMax       = "defaults.backoffMax"
	KeyNoRetryAuth      = "defaults.noRetryAuth"
	KeyDryRun           = "defaults.dryRun"
	KeyOutputFormat     = "defaults.outputFormat"
	KeyNoColor          = "defaults.noColor"
	KeyIPMIToolPath     = "ipmitool.path"
	KeyInterface        = "ipmitool.interface"
	KeyUserID           = "ipmitool.userId"
	KeyTargetUser       = "ipmitool.targetUser"
	KeyCreateUser       = "ipmitool.createUser"
	KeySSHPort          = "ssh.port"
	KeySSHCommand       = "ssh.command"
	KeyKnownHosts       = "ssh.knownHosts"
	KeyBreakerThreshold = "breaker.threshold"
	KeyBreakerCooldown  = "breaker.cooldown"
	KeyLogDir           = "logs.dir"
	KeyAppendLogs       = "logs.append"
	KeyAllowComments    = "input.allowComments"
)

var keys = []string{
	KeyMethod, KeyTimeout, KeyParallel, KeyRetries, KeyBackoff, KeyBackoffMax,
	KeyNoRetryAuth, KeyDryRun, KeyOutputFormat, KeyNoColor, KeyIPMIToolPath,
	KeyInterface, KeyUserID, KeyTargetUser, KeyCreateUser, KeySSHPort, KeySSHCommand, KeyKnownHosts,
	KeyBreakerThreshold, KeyBreakerCooldown, KeyLogDir, KeyAppendLogs,
	KeyAllowComments,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the keys users write in the config file
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Manager handles bmcpass configuration.
// Precedence, highest first: changed flags, BMCPASS_* environment
// variables, the config file, built-in defaults.
type Manager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager(configPath string) *Manager {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		// errors only for an empty key
		_ = v.BindEnv(key)
	}
	// zero is a valid retry count, so it cannot be filled in by applyDefaults
	v.SetDefault(KeyRetries, executor.DefaultRetries)

	return &Manager{
		configPath: configPath,
		viper:      v,
		config:     &Config{},
	}
}

// BindFlag makes a command-line flag override the given key
func (m *Manager) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag to bind to %q", key)
	}
	return m.viper.BindPFlag(key, flag)
}

// ConfigFileUsed returns the config file that was read, if any
func (m *Manager) ConfigFileUsed() string {
	return m.viper.ConfigFileUsed()
}

// Load loads the configuration, applies defaults and validates it
func (m *Manager) Load() (*Config, error) {
	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		// Check ~/.bmcpass/.bmcpass.yaml then ~/.bmcpass.yaml
		m.viper.AddConfigPath(filepath.Join(home, defaultConfigDir))
		m.viper.AddConfigPath(home)
		m.viper.SetConfigName(defaultConfigName)
		m.viper.SetConfigType("yaml")
	}

	m.config = &Config{}

	if err := m.viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := m.viper.Unmarshal(m.config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	m.applyDefaults()

	if err := Validate(m.config); err != nil {
		return nil, err
	}

	return m.config, nil
}

// Save writes the current configuration as YAML
func (m *Manager) Save() error {
	if m.configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		m.configPath = filepath.Join(home, defaultConfigName+".yaml")
	}

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Path returns the config file path Save writes to, or "" when the home
// directory is unknown
func (m *Manager) Path() string {
	if m.configPath != "" {
		return m.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigName+".yaml")
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// SetConfig replaces the configuration Save will write
func (m *Manager) SetConfig(cfg *Config) {
	m.config = cfg
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.Defaults.Retries = executor.DefaultRetries
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for configuration
func (m *Manager) applyDefaults() {
	if m.config == nil {
		return
	}
	applyDefaults(m.config)
}

func applyDefaults(cfg *Config) {
	if cfg.Method == "" {
		cfg.Method = changer.MethodIPMITool
	}

	if cfg.Defaults.Timeout == 0 {
		cfg.Defaults.Timeout = executor.DefaultTimeout
	}
	if cfg.Defaults.Parallel == 0 {
		cfg.Defaults.Parallel = executor.DefaultWorkers
	}
	if cfg.Defaults.BackoffMax == 0 {
		cfg.Defaults.BackoffMax = DefaultBackoffMax
	}
	if cfg.Defaults.OutputFormat == "" {
		cfg.Defaults.OutputFormat = "table"
	}

	if cfg.IPMITool.Path == "" {
		cfg.IPMITool.Path = changer.DefaultIPMITool
	}
	if cfg.IPMITool.Interface == "" {
		cfg.IPMITool.Interface = changer.DefaultInterface
	}
	if cfg.IPMITool.UserID == "" {
		cfg.IPMITool.UserID = changer.DefaultUserID
	}

	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = changer.DefaultSSHPort
	}
	if cfg.SSH.Command == "" {
		cfg.SSH.Command = changer.DefaultSSHCommand
	}

	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = changer.DefaultBreakerCooldown
	}

	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = "."
	}
}

// Validate checks cfg and reports the first invalid field
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		if cfg.IPMITool.CreateUser && cfg.IPMITool.UserID != changer.AutoUserID {
			return util.NewValidationError(KeyCreateUser, cfg.IPMITool.UserID, "needs ipmitool.userId auto")
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}

	fe := verrs[0]
	// Namespace is "Config.defaults.parallel"; drop the type name
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return util.NewValidationError(field, fe.Value(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
