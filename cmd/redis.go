package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"VKMBot/cache"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis connection used by the result cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			return err
		}
		defer cache.CloseRedis()
		fmt.Fprintln(out, "Connected.")

		if err := cache.TestRedis(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(out, "Read/write check passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
