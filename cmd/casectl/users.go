package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirbyniko/research-platform-sub006/internal/auth"
	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var (
	userEmail    string
	userName     string
	userPassword string
	userVerifier bool
)

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		email := strings.ToLower(strings.TrimSpace(userEmail))
		name := strings.TrimSpace(userName)
		if email == "" || name == "" {
			return errors.New("--email and --name are required")
		}
		if len(userPassword) < 8 {
			return errors.New("--password must be at least 8 characters")
		}
		hash, err := auth.HashPassword(userPassword)
		if err != nil {
			return errs.Wrap(err, "hash password")
		}
		user, err := e.store.CreateUser(cmd.Context(), store.User{
			Email:        email,
			DisplayName:  name,
			PasswordHash: hash,
			IsVerifier:   userVerifier,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s> verifier=%t\n", user.ID, user.Email, user.IsVerifier)
		return err
	}),
}

func init() {
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "Login email")
	usersAddCmd.Flags().StringVar(&userName, "name", "", "Display name")
	usersAddCmd.Flags().StringVar(&userPassword, "password", "", "Initial password")
	usersAddCmd.Flags().BoolVar(&userVerifier, "verifier", false, "Grant platform verifier access")
	usersCmd.AddCommand(usersAddCmd)
	rootCmd.AddCommand(usersCmd)
}
