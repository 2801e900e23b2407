package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newRenderCommand(opts *rootOptions) *cobra.Command {
	var (
		ext        string
		transforms []string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "render <file|->",
		Short: "Render a document with the plugin registered for its extension",
		Example: `  folio render diagram.mmd
  cat notes.md | folio render - --ext .md --transform html -o notes.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if ext == "" {
				if args[0] == "-" {
					return fmt.Errorf("--ext is required when reading stdin")
				}
				ext = filepath.Ext(args[0])
			}

			mgr, _, err := opts.startManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Dispose(context.WithoutCancel(cmd.Context()))

			out, err := mgr.Render(cmd.Context(), ext, src)
			if err != nil {
				return err
			}
			for _, t := range transforms {
				if out, err = mgr.Transform(cmd.Context(), t, out); err != nil {
					return err
				}
			}

			if output == "" || output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			}
			return os.WriteFile(output, []byte(out), 0o644)
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "", "extension or renderer name (defaults to the file's extension)")
	cmd.Flags().StringSliceVarP(&transforms, "transform", "t", nil, "transformers to apply after rendering, by input type or name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write output to file")
	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
