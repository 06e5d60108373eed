package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signed-uploads/internal/app"
)

// errUploadsFailed makes the command exit non-zero once the result is printed.
var errUploadsFailed = errors.New("some uploads failed")

func uploadCmd() *cobra.Command {
	var opts app.Options

	cmd := &cobra.Command{
		Use:   "upload [files...]",
		Short: "Upload files and record their URLs in the form",
		Long: `Queue the given files, sign and upload each one, then write its URL into
the configured form field. The final form values and any errors are
printed as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Files = args
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runUpload(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.json", "Path to the JSON config")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "Dotenv file with UPLOADER_* overrides (default .env next to the config)")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "data", "Directory for the log file and its archive")
	cmd.Flags().BoolVar(&opts.Serve, "serve", false, "Keep the status server up after uploads finish")

	return cmd
}

func runUpload(ctx context.Context, cmd *cobra.Command, opts app.Options) error {
	result, err := app.Run(ctx, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return fmt.Errorf("write result: %w", encErr)
	}
	if result.Failed() {
		return errUploadsFailed
	}
	return nil
}
