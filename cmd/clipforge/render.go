package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipforge/internal/daemonctl"
	"clipforge/internal/pipeline"
)

type renderFlags struct {
	filename string
	asJSON   bool
	timeout  time.Duration
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Submit render requests to the running daemon",
	}
	renderCmd.AddCommand(newRenderVideoCommand(ctx))
	renderCmd.AddCommand(newRenderImageCommand(ctx))
	return renderCmd
}

func newRenderVideoCommand(ctx *commandContext) *cobra.Command {
	flags := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "video [request.json]",
		Short: "Render a video from a JSON request (reads stdin when no file or '-' is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req pipeline.VideoRequest
			if err := readRequest(cmd, args, &req); err != nil {
				return err
			}
			if flags.filename != "" {
				req.Filename = flags.filename
			}
			return submit(cmd, ctx, flags, func(runCtx context.Context, client *daemonctl.Client) (pipeline.Outcome, error) {
				return client.RenderVideo(runCtx, req)
			})
		},
	}
	bindRenderFlags(cmd, flags)
	return cmd
}

func newRenderImageCommand(ctx *commandContext) *cobra.Command {
	flags := &renderFlags{}
	cmd := &cobra.Command{
		Use:   "image [request.json]",
		Short: "Render a still from a JSON request (reads stdin when no file or '-' is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req pipeline.ImageRequest
			if err := readRequest(cmd, args, &req); err != nil {
				return err
			}
			if flags.filename != "" {
				req.Filename = flags.filename
			}
			return submit(cmd, ctx, flags, func(runCtx context.Context, client *daemonctl.Client) (pipeline.Outcome, error) {
				return client.RenderImage(runCtx, req)
			})
		},
	}
	bindRenderFlags(cmd, flags)
	return cmd
}

func bindRenderFlags(cmd *cobra.Command, flags *renderFlags) {
	cmd.Flags().StringVar(&flags.filename, "filename", "", "Download name reported by the file server")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the outcome as JSON")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, "Give up waiting for the daemon after this long")
}

func readRequest(cmd *cobra.Command, args []string, dst any) error {
	var reader io.Reader = cmd.InOrStdin()
	source := "stdin"
	if len(args) == 1 && strings.TrimSpace(args[0]) != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open request: %w", err)
		}
		defer file.Close()
		reader = file
		source = args[0]
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read request from %s: %w", source, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("request from %s is empty", source)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse request from %s: %w", source, err)
	}
	return nil
}

func submit(cmd *cobra.Command, ctx *commandContext, flags *renderFlags, call func(context.Context, *daemonctl.Client) (pipeline.Outcome, error)) error {
	runCtx := cmd.Context()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, flags.timeout)
		defer cancel()
	}
	return ctx.withClient(func(client *daemonctl.Client) error {
		outcome, err := call(runCtx, client)
		if err != nil {
			return err
		}
		if flags.asJSON {
			return writeJSON(cmd, outcome)
		}
		printOutcome(cmd.OutOrStdout(), outcome)
		return nil
	})
}

func printOutcome(out io.Writer, outcome pipeline.Outcome) {
	fmt.Fprintf(out, "URL:      %s\n", outcome.URL)
	if outcome.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires:  %s\n", outcome.ExpiresAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Type:     %s\n", outcome.MIMEType)
	meta := outcome.Metadata
	switch {
	case meta.Frame != nil:
		fmt.Fprintf(out, "Image:    %dx%d (frame %d)\n", meta.Width, meta.Height, *meta.Frame)
	case meta.FPS > 0:
		fmt.Fprintf(out, "Video:    %dx%d, %.2fs @ %dfps (%d frames)\n", meta.Width, meta.Height, meta.Duration, meta.FPS, meta.Frames)
	default:
		fmt.Fprintf(out, "Size:     %dx%d\n", meta.Width, meta.Height)
	}
	fmt.Fprintf(out, "Mode:     %s\n", outcome.Mode)
}
