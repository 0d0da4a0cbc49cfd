// Package config holds the explicit run configuration.
//
// Nothing in the core reads environment variables or flags; the settings
// are built once at startup (defaults, optionally merged with a config
// file and CLI flags) and passed down by value.
package config

import (
	"fmt"
	"time"
)

// Backend selects how the inference collaborator is invoked.
type Backend string

const (
	// BackendServer calls a node-local llama-server over HTTP.
	BackendServer Backend = "server"

	// BackendCLI shells out to a llama.cpp binary per call.
	BackendCLI Backend = "cli"
)

// CheckpointBackend selects where progress offsets are persisted.
type CheckpointBackend string

const (
	// CheckpointFile keeps one JSON document per (batch, worker).
	CheckpointFile CheckpointBackend = "file"

	// CheckpointSQLite keeps all offsets in a single per-worker SQLite file.
	// Preferable on parallel filesystems that punish many small files.
	CheckpointSQLite CheckpointBackend = "sqlite"
)

// Settings is the full run configuration with documented defaults.
type Settings struct {
	// SourceDir contains the input parquet batches.
	SourceDir string `yaml:"source_dir" json:"source_dir"`

	// OutputDir receives per-(batch, worker) outputs and checkpoints.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Backend selects the inference invocation form. Default: server.
	Backend Backend `yaml:"backend" json:"backend"`

	// Model is the model name sent in HTTP requests.
	Model string `yaml:"model" json:"model"`

	// BasePort is the first llama-server port on each machine; worker slot
	// s talks to BasePort+s. Default 18080.
	BasePort int `yaml:"base_port" json:"base_port"`

	// MaxTokens bounds generation length per request. Default 500.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// CallTimeout bounds one inference attempt. Default 600s.
	CallTimeout Duration `yaml:"call_timeout" json:"call_timeout"`

	// MaxAttempts is the retry ceiling for transient backend failures.
	// Default 60.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// RetryDelay is the fixed pause between attempts. Default 10s.
	RetryDelay Duration `yaml:"retry_delay" json:"retry_delay"`

	// FlushThreshold is the number of consumed rows per flush-cycle.
	// Default 20.
	FlushThreshold int `yaml:"flush_threshold" json:"flush_threshold"`

	// CtxTokens approximates the server context window; prompts longer
	// than CtxTokens*4 characters are skipped. Default 1024.
	CtxTokens int `yaml:"ctx_tokens" json:"ctx_tokens"`

	// ModelPath, GPULayers apply to the CLI backend only.
	ModelPath string `yaml:"model_path" json:"model_path"`
	GPULayers int    `yaml:"gpu_layers" json:"gpu_layers"`

	// CLIPath is the llama.cpp binary for the CLI backend.
	CLIPath string `yaml:"cli_path" json:"cli_path"`

	// SelectorColumn and SelectorAllow control row filtering: when the
	// column is present in a batch, only rows whose value is in the
	// allow-set are processed.
	SelectorColumn string   `yaml:"selector_column" json:"selector_column"`
	SelectorAllow  []string `yaml:"selector_allow" json:"selector_allow"`

	// Checkpoint selects the checkpoint persistence backend.
	Checkpoint CheckpointBackend `yaml:"checkpoint" json:"checkpoint"`
}

// Default returns the documented default settings.
func Default() Settings {
	return Settings{
		Backend:        BackendServer,
		Model:          "gpt-oss-120b",
		BasePort:       18080,
		MaxTokens:      500,
		CallTimeout:    Duration(600 * time.Second),
		MaxAttempts:    60,
		RetryDelay:     Duration(10 * time.Second),
		FlushThreshold: 20,
		CtxTokens:      1024,
		GPULayers:      80,
		CLIPath:        "llama-cli",
		SelectorColumn: "LLM_prompt",
		SelectorAllow:  []string{"LLM", "API"},
		Checkpoint:     CheckpointFile,
	}
}

// MaxPromptChars is the character budget derived from the context window
// (~4 chars per token). Over-long prompts are skipped rather than risking
// server-side truncation or OOM.
func (s Settings) MaxPromptChars() int {
	return s.CtxTokens * 4
}

// Validate rejects settings the pipeline cannot run with.
func (s Settings) Validate() error {
	if s.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}
	if s.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	switch s.Backend {
	case BackendServer:
		if s.BasePort <= 0 || s.BasePort > 65535 {
			return fmt.Errorf("base_port %d out of range", s.BasePort)
		}
	case BackendCLI:
		if s.ModelPath == "" {
			return fmt.Errorf("model_path is required for the cli backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	switch s.Checkpoint {
	case CheckpointFile, CheckpointSQLite:
	default:
		return fmt.Errorf("unknown checkpoint backend %q", s.Checkpoint)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts %d < 1", s.MaxAttempts)
	}
	if s.FlushThreshold < 1 {
		return fmt.Errorf("flush_threshold %d < 1", s.FlushThreshold)
	}
	if s.CtxTokens < 1 {
		return fmt.Errorf("ctx_tokens %d < 1", s.CtxTokens)
	}
	return nil
}
