package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prn-tf/blobvault/internal/pkg/crypto"
)

func newHashSecretCmd() *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print a bcrypt hash for auth.secret_key_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			var secret string
			switch {
			case generate:
				s, err := crypto.GenerateSecret()
				if err != nil {
					return err
				}
				secret = s
				fmt.Fprintf(w, "secret: %s\n", secret)
			case len(args) == 1:
				secret = args[0]
			default:
				return errors.New("provide a secret or use --generate")
			}

			hash, err := crypto.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "hash:   %s\n", hash)
			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "generate a random secret")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "blobvault admin CLI\n")
			fmt.Fprintf(w, "Version: %s\n", Version)
			fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
			fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
		},
	}
}
