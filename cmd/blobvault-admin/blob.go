package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/prn-tf/blobvault/internal/service"
)

func newPutCmd(opts *options) *cobra.Command {
	var objectID string

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file as a blob (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if objectID == "" {
				objectID = uuid.NewString()
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := opts.openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			meta, err := a.Blobs.Store(cmd.Context(), service.StoreInput{ObjectID: objectID, Data: data})
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), meta)
		},
	}

	cmd.Flags().StringVar(&objectID, "id", "", "object ID (default: a random UUID)")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write a blob's payload to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := opts.openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Blobs.Retrieve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(out.Data)
				return err
			}
			return os.WriteFile(outPath, out.Data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newStatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <id>",
		Short: "Print a blob's metadata record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := opts.openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			meta, err := a.Blobs.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), meta)
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
