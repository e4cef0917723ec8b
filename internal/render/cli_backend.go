package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// CLIOption configures the CLI backend.
type CLIOption func(*CLIBackend)

// WithCommand overrides the renderer executable and its leading arguments.
func WithCommand(binary string, args ...string) CLIOption {
	return func(b *CLIBackend) {
		if strings.TrimSpace(binary) != "" {
			b.binary = binary
			b.baseArgs = append([]string(nil), args...)
		}
	}
}

// CLIBackend drives the renderer command line (bundle, compositions, render, still).
type CLIBackend struct {
	binary   string
	baseArgs []string
}

// NewCLIBackend constructs a backend that shells out to "npx remotion" by default.
func NewCLIBackend(opts ...CLIOption) *CLIBackend {
	b := &CLIBackend{binary: "npx", baseArgs: []string{"remotion"}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Binary returns the executable the backend runs.
func (b *CLIBackend) Binary() string {
	return b.binary
}

// Compile bundles entryPoint into outDir.
func (b *CLIBackend) Compile(ctx context.Context, entryPoint, outDir string) (string, error) {
	if entryPoint == "" {
		return "", errors.New("entry point required")
	}
	if outDir == "" {
		return "", errors.New("output directory required")
	}
	if _, err := b.run(ctx, "bundle", entryPoint, "--out-dir", outDir); err != nil {
		return "", err
	}
	return outDir, nil
}

// ResolveComposition asks the renderer for composition metadata under inputProps.
func (b *CLIBackend) ResolveComposition(ctx context.Context, bundlePath, compositionID string, inputProps any) (Composition, error) {
	props, err := encodeProps(inputProps)
	if err != nil {
		return Composition{}, err
	}
	stdout, err := b.run(ctx, "compositions", bundlePath, "--props", props, "--json")
	if err != nil {
		return Composition{}, err
	}
	var comps []Composition
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &comps); err != nil {
		return Composition{}, fmt.Errorf("parse compositions output: %w", err)
	}
	for _, comp := range comps {
		if comp.ID == compositionID {
			return comp, nil
		}
	}
	return Composition{}, fmt.Errorf("composition %q not found in bundle", compositionID)
}

// RenderToFile renders the composition to opts.OutputPath.
func (b *CLIBackend) RenderToFile(ctx context.Context, opts RenderOptions) error {
	props, err := encodeProps(opts.InputProps)
	if err != nil {
		return err
	}
	args := []string{"render", opts.BundlePath, opts.Composition.ID, opts.OutputPath,
		"--codec", opts.Codec, "--props", props}
	if opts.Concurrency > 0 {
		args = append(args, "--concurrency", strconv.Itoa(opts.Concurrency))
	}
	_, err = b.run(ctx, args...)
	return err
}

// RenderStill renders a single frame to opts.OutputPath.
func (b *CLIBackend) RenderStill(ctx context.Context, opts StillOptions) error {
	props, err := encodeProps(opts.InputProps)
	if err != nil {
		return err
	}
	_, err = b.run(ctx, "still", opts.BundlePath, opts.Composition.ID, opts.OutputPath,
		"--frame", strconv.Itoa(opts.Frame), "--image-format", opts.ImageFormat, "--props", props)
	return err
}

func (b *CLIBackend) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append(append([]string(nil), b.baseArgs...), args...)
	cmd := commandContext(ctx, b.binary, full...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s %s: %w: %s", b.binary, args[0], err, detail)
	}
	return stdout.Bytes(), nil
}

func encodeProps(props any) (string, error) {
	if props == nil {
		return "{}", nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode input props: %w", err)
	}
	return string(data), nil
}
