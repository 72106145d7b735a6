// Package config provides configuration management for pwno-mcp.
// It supports loading configuration from a config file, environment
// variables, and CLI flags (bound by cmd/pwno-mcp), in that order of
// increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for pwno-mcp.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Attach      AttachConfig      `mapstructure:"attach"`
	Debugger    DebuggerConfig    `mapstructure:"debugger"`
	Subprocess  SubprocessConfig  `mapstructure:"subprocess"`
	ExploitPipe ExploitPipeConfig `mapstructure:"exploitPipe"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	// Workspace is the working directory the service creates on startup if
	// absent. Binaries and exploit scripts are conventionally addressed
	// relative to it.
	Workspace string `mapstructure:"workspace"`
}

// ServerConfig holds the MCP tool-dispatch transport configuration.
type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	StreamableHTTPPath string `mapstructure:"streamableHttpPath"`
	Stdio              bool   `mapstructure:"stdio"`
}

// AttachConfig holds the out-of-band HTTP attach endpoint configuration.
// Bound to loopback by default.
type AttachConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DebuggerConfig holds DebuggerController tuning.
type DebuggerConfig struct {
	// GDBPath is the executable used to launch the debugger subprocess.
	GDBPath string `mapstructure:"gdbPath"`
	// CommandTimeout bounds how long a single MI command may run before
	// the controller reports success=false, error="timeout".
	CommandTimeoutSeconds int `mapstructure:"commandTimeoutSeconds"`
	// QuickContextDisasmBytes is N in the quick-context disassembly window
	// `-data-disassemble -s $pc -e $pc+N -- 1`.
	QuickContextDisasmBytes int `mapstructure:"quickContextDisasmBytes"`
}

// SubprocessConfig holds SubprocessManager tuning.
type SubprocessConfig struct {
	// SpawnSettleMillis is the ~100ms pause after spawn() used to catch
	// immediate failures in a single round trip.
	SpawnSettleMillis int `mapstructure:"spawnSettleMillis"`
	// LogDir overrides the directory tracked-process stdout/stderr logs
	// are written under. Empty means os.TempDir().
	LogDir string `mapstructure:"logDir"`
}

// ExploitPipeConfig holds ExploitPipe tuning.
type ExploitPipeConfig struct {
	ReadyTimeoutSeconds int `mapstructure:"readyTimeoutSeconds"`
}

// AuthConfig holds transport-layer authentication configuration.
type AuthConfig struct {
	// Disabled explicitly opts out of header-nonce authentication
	// (development mode only; must be set deliberately).
	Disabled bool `mapstructure:"disabled"`
	// NonceFile is read once at startup; its trimmed contents are the
	// expected value of the auth header.
	NonceFile string `mapstructure:"nonceFile"`
	// Header is the header name inspected on every request.
	Header string `mapstructure:"header"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// CommandTimeout returns the debugger command timeout as a Duration.
func (d *DebuggerConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutSeconds) * time.Second
}

// SpawnSettle returns the post-spawn settle delay as a Duration.
func (s *SubprocessConfig) SpawnSettle() time.Duration {
	return time.Duration(s.SpawnSettleMillis) * time.Millisecond
}

// ReadyTimeout returns the exploit-pipe wait_ready timeout as a Duration.
func (e *ExploitPipeConfig) ReadyTimeout() time.Duration {
	return time.Duration(e.ReadyTimeoutSeconds) * time.Second
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix PWNO_ followed by the
// upper-cased key with dots replaced by underscores (PWNO_SERVER_PORT);
// camelCase keys are not split into words, except auth.nonceFile,
// auth.disabled and logging.level, which are also bound to
// PWNO_AUTH_NONCE_FILE, PWNO_AUTH_DISABLED and PWNO_LOG_LEVEL.
// Config file should be named config.yaml and placed in the
// current directory or /etc/pwno-mcp/.
func Load() (*Config, error) {
	return LoadWithFlags("", nil)
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags merges defaults, a config file, environment variables, and
// CLI flags, in that order of increasing precedence. flags may be nil,
// in which case only env/file/defaults apply.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PWNO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("auth.nonceFile", "PWNO_AUTH_NONCE_FILE")
	_ = v.BindEnv("auth.disabled", "PWNO_AUTH_DISABLED")
	_ = v.BindEnv("logging.level", "PWNO_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pwno-mcp/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindFlags wires the CLI surface's named flags onto their viper keys so a
// flag explicitly set on the command line outranks env/file/defaults.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	bindings := map[string]string{
		"host":                 "server.host",
		"port":                 "server.port",
		"attach-host":          "attach.host",
		"attach-port":          "attach.port",
		"streamable-http-path": "server.streamableHttpPath",
		"stdio":                "server.stdio",
	}
	for flagName, key := range bindings {
		if f := flags.Lookup(flagName); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Attach.Port <= 0 || cfg.Attach.Port > 65535 {
		errs = append(errs, "attach.port must be between 1 and 65535")
	}
	if !cfg.Auth.Disabled && cfg.Auth.NonceFile == "" {
		errs = append(errs, "auth.nonceFile is required unless auth.disabled is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.streamableHttpPath", "/mcp")
	v.SetDefault("server.stdio", false)

	v.SetDefault("attach.host", "127.0.0.1")
	v.SetDefault("attach.port", 9091)

	v.SetDefault("debugger.gdbPath", "pwndbg")
	v.SetDefault("debugger.commandTimeoutSeconds", 15)
	v.SetDefault("debugger.quickContextDisasmBytes", 32)

	v.SetDefault("subprocess.spawnSettleMillis", 100)
	v.SetDefault("subprocess.logDir", "")

	v.SetDefault("exploitPipe.readyTimeoutSeconds", 10)

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.nonceFile", "")
	v.SetDefault("auth.header", "X-Pwno-Token")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("workspace", "/workspace")
}
