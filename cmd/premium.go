package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"VKMBot/db"
	"VKMBot/model"
	"VKMBot/repository"
)

var premiumUntil string

var premiumCmd = &cobra.Command{
	Use:   "premium",
	Short: "Grant, revoke or inspect a user's premium tier",
}

var premiumAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Give a user premium, optionally until a date (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		until, err := parseUntil(premiumUntil)
		if err != nil {
			return err
		}
		users, closeDB, err := openUserRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := users.SetPremium(cmd.Context(), userID, until); err != nil {
			return err
		}
		if until != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "User %d is premium until %s.\n", userID, until.Format(model.DayLayout))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "User %d is premium.\n", userID)
		}
		return nil
	},
}

var premiumRemoveCmd = &cobra.Command{
	Use:   "remove <user-id>",
	Short: "Return a user to the free tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		users, closeDB, err := openUserRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := users.RemovePremium(cmd.Context(), userID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %d is on the free tier.\n", userID)
		return nil
	},
}

var premiumShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user's tier, counters and recent downloads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		users, closeDB, err := openUserRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		user, err := users.GetByID(cmd.Context(), userID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		tier := user.QuotaRecord().EffectiveTier(time.Now())
		fmt.Fprintf(out, "User %d (%s): tier %s, today %d (%s), total %d\n",
			user.ID, displayName(user), tier, user.DailyDownloads, user.LastResetDate, user.TotalDownloads)
		if user.PremiumExpiresAt != nil {
			fmt.Fprintf(out, "Premium expires %s\n", user.PremiumExpiresAt.Format(time.RFC3339))
		}

		downloads, err := users.ListDownloads(cmd.Context(), userID, 10)
		if err != nil {
			return err
		}
		for _, d := range downloads {
			fmt.Fprintf(out, "  %s  %s [%s]\n", d.DownloadedAt.Format("2006-01-02 15:04"), d.Title, d.Duration)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(premiumCmd)
	premiumCmd.AddCommand(premiumAddCmd, premiumRemoveCmd, premiumShowCmd)
	premiumAddCmd.Flags().StringVar(&premiumUntil, "until", "", "expiry date, YYYY-MM-DD (local time, exclusive)")
}

func openUserRepository() (repository.UserRepository, func(), error) {
	cfg := mustLoadConfig()
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(db.GormDB); err != nil {
		db.CloseGormDB()
		return nil, nil, err
	}
	return repository.NewGormUserRepository(db.GormDB), func() { db.CloseGormDB() }, nil
}

func displayName(u *model.User) string {
	switch {
	case u.Username != "" && u.FirstName != "":
		return fmt.Sprintf("%s, @%s", u.FirstName, u.Username)
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return "unnamed"
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

// parseUntil turns a date into the local midnight that ends premium.
func parseUntil(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(model.DayLayout, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --until %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}
