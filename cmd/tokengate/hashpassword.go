package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/tokengate"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long: `Read one line from stdin and print its argon2id hash in the format the
identity store expects in users.password_hash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			plain := strings.TrimRight(line, "\r\n")
			if plain == "" {
				if err != nil {
					return oops.Code("INPUT_INVALID").Wrap(err)
				}
				return oops.Code("INPUT_INVALID").Errorf("empty password")
			}

			hash, err := hashPassword(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func hashPassword(plain string) (string, error) {
	hasher, err := tokengate.NewPasswordHasher(tokengate.DefaultConfig().Password)
	if err != nil {
		return "", oops.Code("HASHER_INIT_FAILED").Wrap(err)
	}
	hash, err := hasher.Hash(plain)
	if err != nil {
		return "", oops.Code("HASH_FAILED").Wrap(err)
	}
	return hash, nil
}
