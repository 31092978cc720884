package config

import "time"

// Config represents the bmcpass configuration file structure
type Config struct {
	// Method is the credential change method (ipmitool, ssh)
	Method string `yaml:"method" json:"method" validate:"oneof=ipmitool ssh"`

	// Defaults contains default settings for a rotation run
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults"`

	// IPMITool configures the ipmitool method
	IPMITool IPMIToolConfig `yaml:"ipmitool" json:"ipmitool"`

	// SSH configures the ssh method
	SSH SSHConfig `yaml:"ssh" json:"ssh"`

	// Breaker configures the optional circuit breaker
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`

	// Logs configures the result logs
	Logs LogsConfig `yaml:"logs" json:"logs"`

	// Input configures input parsing
	Input InputConfig `yaml:"input" json:"input"`
}

// DefaultsConfig contains scheduling and presentation defaults
type DefaultsConfig struct {
	// Timeout bounds a single attempt
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// Parallel is the number of attempts allowed in flight at once
	Parallel int `yaml:"parallel" json:"parallel" validate:"min=1,max=1024"`

	// Retries is the number of extra attempts after a failed first one
	Retries int `yaml:"retries" json:"retries" validate:"min=0,max=10"`

	// Backoff is the delay before the first retry; zero retries immediately
	Backoff time.Duration `yaml:"backoff" json:"backoff" validate:"min=0"`

	// BackoffMax caps the exponential retry delay
	BackoffMax time.Duration `yaml:"backoffMax" json:"backoffMax" validate:"min=0"`

	// NoRetryAuth skips retries after an authentication failure
	NoRetryAuth bool `yaml:"noRetryAuth" json:"noRetryAuth"`

	// DryRun reports what would be done without contacting any controller
	DryRun bool `yaml:"dryRun" json:"dryRun"`

	// OutputFormat is the report format (table, json, yaml)
	OutputFormat string `yaml:"outputFormat" json:"outputFormat" validate:"oneof=table json yaml"`

	// NoColor disables colored output
	NoColor bool `yaml:"noColor" json:"noColor"`
}

// IPMIToolConfig configures the ipmitool method
type IPMIToolConfig struct {
	// Path is the ipmitool binary
	Path string `yaml:"path" json:"path" validate:"required"`

	// Interface is passed with -I
	Interface string `yaml:"interface" json:"interface" validate:"required"`

	// UserID is the user slot to change, or "auto" to look it up
	UserID string `yaml:"userId" json:"userId" validate:"required"`

	// TargetUser is the account to change when it differs from the login user
	TargetUser string `yaml:"targetUser,omitempty" json:"targetUser,omitempty"`

	// CreateUser adds TargetUser in a free slot when it is missing
	CreateUser bool `yaml:"createUser" json:"createUser"`
}

// SSHConfig configures the ssh method
type SSHConfig struct {
	// Port is used when the record address has no port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// Command is the remote command template
	Command string `yaml:"command" json:"command" validate:"required"`

	// KnownHosts is an OpenSSH known_hosts file; empty disables host key checks
	KnownHosts string `yaml:"knownHosts" json:"knownHosts"`
}

// BreakerConfig configures the circuit breaker
type BreakerConfig struct {
	// Threshold is the number of consecutive transient failures that opens
	// the breaker; zero disables it
	Threshold uint32 `yaml:"threshold" json:"threshold"`

	// Cooldown is how long the breaker stays open
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" validate:"gt=0"`
}

// LogsConfig configures the success, failure and badlines logs
type LogsConfig struct {
	// Dir is the directory holding the logs
	Dir string `yaml:"dir" json:"dir" validate:"required"`

	// Append keeps earlier runs' lines instead of truncating
	Append bool `yaml:"append" json:"append"`
}

// InputConfig configures input parsing
type InputConfig struct {
	// AllowComments skips lines starting with '#'
	AllowComments bool `yaml:"allowComments" json:"allowComments"`
}
