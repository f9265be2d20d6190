// Package config provides configuration loading for the gateway process
// and for the separate policy document it enforces. ProcessConfig
// (this file, loaded with viper) governs the gateway's own behavior; the
// policy document (parsed by policy_doc.go) is the separate rule file the
// policy engine evaluates against, read once at startup.
package config

// ProcessConfig is the top-level configuration for the gateway process.
type ProcessConfig struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// PolicyFile is the path to the policy document this gateway enforces.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file" validate:"required"`

	// Upstream configures the child MCP server this gateway proxies to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream" validate:"required"`

	// Transport configures wire framing and resource limits.
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`

	// Dispatch configures in-flight request bookkeeping and shutdown.
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`

	// Audit configures where the audit trail is written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures metrics/tracing export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// UpstreamConfig names the child process to spawn.
type UpstreamConfig struct {
	Command string   `yaml:"command" mapstructure:"command" validate:"required"`
	Args    []string `yaml:"args" mapstructure:"args"`
}

// TransportConfig configures wire framing limits.
type TransportConfig struct {
	// MaxFrameBytes bounds a single decoded JSON-RPC frame.
	MaxFrameBytes int `yaml:"max_frame_bytes" mapstructure:"max_frame_bytes" validate:"omitempty,min=1024"`
}

// DispatchConfig configures the dispatcher's backpressure and shutdown
// behavior.
type DispatchConfig struct {
	// ChannelCapacity bounds the reader/writer/dispatcher channels.
	ChannelCapacity int `yaml:"channel_capacity" mapstructure:"channel_capacity" validate:"omitempty,min=1"`
	// MaxInFlight bounds concurrently outstanding requests per session.
	MaxInFlight int `yaml:"max_in_flight" mapstructure:"max_in_flight" validate:"omitempty,min=1"`
	// DrainTimeoutSeconds bounds how long Draining waits for in-flight
	// requests to finish before forcing Stopped.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds" mapstructure:"drain_timeout_seconds" validate:"omitempty,min=0"`
}

// AuditConfig configures the mandatory audit trail.
type AuditConfig struct {
	// Output is "stderr" or "sqlite://<path>".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`
}

// TelemetryConfig configures metrics/tracing export.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	ServiceName   string `yaml:"service_name" mapstructure:"service_name"`
	MetricsAddr   string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

const (
	DefaultMaxFrameBytes       = 16 * 1024 * 1024
	DefaultChannelCapacity     = 64
	DefaultMaxInFlight         = 256
	DefaultDrainTimeoutSeconds = 5
	DefaultAuditOutput         = "stderr"
	DefaultServiceName         = "mcpgate"
)

// SetDefaults fills zero-valued optional fields with their defaults.
// Called after unmarshaling and before validation.
func (c *ProcessConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Transport.MaxFrameBytes == 0 {
		c.Transport.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.Dispatch.ChannelCapacity == 0 {
		c.Dispatch.ChannelCapacity = DefaultChannelCapacity
	}
	if c.Dispatch.MaxInFlight == 0 {
		c.Dispatch.MaxInFlight = DefaultMaxInFlight
	}
	if c.Dispatch.DrainTimeoutSeconds == 0 {
		c.Dispatch.DrainTimeoutSeconds = DefaultDrainTimeoutSeconds
	}
	if c.Audit.Output == "" {
		c.Audit.Output = DefaultAuditOutput
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
