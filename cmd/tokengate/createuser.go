package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/tokengate/identity/postgres"
)

// NewCreateUserCmd creates the create-user subcommand.
func NewCreateUserCmd() *cobra.Command {
	var (
		in       postgres.NewIdentity
		plain    string
		statusIn string
	)

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Insert a user into the identity database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
			}

			status, err := parseStatus(statusIn)
			if err != nil {
				return oops.Code("INPUT_INVALID").With("status", statusIn).Wrap(err)
			}
			in.Status = status
			if in.PasswordHash, err = hashPassword(plain); err != nil {
				return err
			}

			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").Wrap(err)
			}
			defer pool.Close()

			id, err := postgres.NewRepository(pool).Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			cmd.Printf("created user %s (id %d)\n", in.Username, id)
			return nil
		},
	}

	fs := cmd.Flags()
	registerDatabaseFlags(fs)
	fs.StringVar(&in.Username, "username", "", "login name (required)")
	fs.StringVar(&plain, "password", "", "plaintext password (required)")
	fs.StringVar(&in.Phone, "phone", "", "phone number")
	fs.StringVar(&in.Email, "email", "", "email address")
	fs.StringVar(&statusIn, "status", "ACTIVE", "ACTIVE, UNACTIVATED or FORBIDDEN")
	fs.StringSliceVar(&in.Roles, "role", []string{"user"}, "role to grant; repeatable")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
