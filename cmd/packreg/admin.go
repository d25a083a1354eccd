package main

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/packreg/packreg/internal/index"
	"github.com/packreg/packreg/internal/registry"
)

// rebuildIndexCmd re-derives the whole search index from the package
// tables, the recovery path after index corruption or divergence.
func rebuildIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the search index from the package tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			svc := registry.New(db, index.NewSQLIndex(db), nil, logger)
			return svc.RebuildIndex()
		},
	}
}

// userAddCmd creates a user account from the command line. The password is
// salted and digested here the same way the web client does it before
// sending, so the stored form matches.
func userAddCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			salt := uuid.New().String()
			sum := sha256.Sum256([]byte(password + salt))
			digest := base64.StdEncoding.EncodeToString(sum[:])

			svc := registry.New(db, index.NewSQLIndex(db), nil, logger)
			user, err := svc.CreateUser(args[0], digest, salt, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the account")
	cmd.Flags().StringVar(&password, "password", "", "clear-text password to salt and digest")
	return cmd
}
