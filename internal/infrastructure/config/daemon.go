package config

import "time"

// DaemonConfig holds daemon service configuration
type DaemonConfig struct {
	// Unix socket path for the control socket (JSON-RPC over net.Listen("unix", ...))
	SocketPath string `mapstructure:"socket_path" validate:"required"`

	// PID file location
	PIDFile string `mapstructure:"pid_file"`

	// Maximum number of concurrent containers
	MaxContainers int `mapstructure:"max_containers" validate:"min=1"`

	// Health check interval for containers
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" validate:"required"`

	// Container restart policy
	RestartPolicy RestartPolicyConfig `mapstructure:"restart_policy"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required"`

	// How long a cached waypoint record stays authoritative before a lookup
	// triggers a rebuild from the API
	WaypointCacheTTL time.Duration `mapstructure:"waypoint_cache_ttl"`

	// Per-container stop grace period before STOPPING escalates to FAILED
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`

	// Default sleep between container iterations when a spec names none
	IterationInterval time.Duration `mapstructure:"iteration_interval"`
}

// RestartPolicyConfig holds container restart policy configuration
type RestartPolicyConfig struct {
	// Enable automatic restart on failure
	Enabled bool `mapstructure:"enabled"`

	// Maximum restart attempts before giving up
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=0"`

	// Delay between restart attempts
	Delay time.Duration `mapstructure:"delay"`

	// Backoff multiplier for retry delays
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"min=1"`
}
