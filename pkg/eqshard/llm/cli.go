package llm

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// CLIClient shells out to a llama.cpp binary per prompt. Every call pays
// the model load, so this form only makes sense where no server can stay
// resident; the pipeline treats it exactly like the HTTP backend.
type CLIClient struct {
	path      string
	modelPath string
	ctxTokens int
	gpuLayers int
	maxTokens int
	timeout   time.Duration
}

// NewCLIClient creates a subprocess-backed client.
func NewCLIClient(path, modelPath string, ctxTokens, gpuLayers, maxTokens int, timeout time.Duration) *CLIClient {
	return &CLIClient{
		path:      path,
		modelPath: modelPath,
		ctxTokens: ctxTokens,
		gpuLayers: gpuLayers,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Complete implements Client. A non-zero exit is fatal for the call (never
// retried) with the combined output attached so the failure is diagnosable
// from worker logs alone.
func (c *CLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"-m", c.modelPath,
		"-p", prompt,
		"-c", strconv.Itoa(c.ctxTokens),
		"-ngl", strconv.Itoa(c.gpuLayers),
		"-n", strconv.Itoa(c.maxTokens),
		"-no-cnv",
		"--simple-io",
	}

	cmd := exec.CommandContext(ctx, c.path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s timed out after %s: %w", c.path, c.timeout, ctx.Err())
		}
		return "", fmt.Errorf("%s failed: %w\noutput:\n%s", c.path, err, out)
	}
	return string(out), nil
}
