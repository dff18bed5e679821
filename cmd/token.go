package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"VKMBot/core/auth"
	"VKMBot/logger"
	"VKMBot/repository"
)

var (
	tokenTTL       time.Duration
	tokenUsername  string
	tokenFirstName string
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Register a user and issue their API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		cfg := mustLoadConfig()
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		users, closeDB, err := openUserRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		return issueToken(cmd.Context(), cmd.OutOrStdout(), users, userID, []byte(cfg.JWTSecret))
	},
}

// issueToken registers userID on first contact, refreshing any profile
// fields given on the command line, and prints a signed token.
func issueToken(ctx context.Context, out io.Writer, users repository.UserRepository, userID int64, secret []byte) error {
	user, err := users.EnsureUser(ctx, userID, tokenUsername, tokenFirstName)
	if err != nil {
		return err
	}
	token, err := auth.GenerateToken(user.ID, secret, tokenTTL)
	if err != nil {
		return err
	}
	logger.Info("[Token] issued",
		logger.Int64("userId", user.ID),
		logger.String("username", user.Username),
		logger.Duration("ttl", tokenTTL))
	fmt.Fprintln(out, token)
	return nil
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "messenger username to record")
	tokenCmd.Flags().StringVar(&tokenFirstName, "first-name", "", "display name to record")
}
