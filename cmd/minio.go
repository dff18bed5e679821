package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"VKMBot/storage"
)

var (
	minioPrefix    string
	minioOlderThan time.Duration
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect and prune delivered files in MinIO",
}

var minioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivered files, optionally under a user prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		publisher, err := storage.NewPublisher(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		objects, stats, err := publisher.List(cmd.Context(), minioPrefix)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, obj := range objects {
			fmt.Fprintf(out, "%s  %10s  %s\n", obj.LastModified.Format("2006-01-02 15:04:05"), storage.FormatSize(obj.Size), obj.Key)
		}
		fmt.Fprintf(out, "\nBucket %s: %d files, %s\n", publisher.Bucket(), stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		return nil
	},
}

var minioPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete delivered files older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		if minioOlderThan <= 0 {
			minioOlderThan = cfg.MinioLinkTTL
		}
		publisher, err := storage.NewPublisher(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		removed, err := publisher.Prune(cmd.Context(), minioOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files older than %s.\n", removed, minioOlderThan)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
	minioCmd.AddCommand(minioListCmd, minioPruneCmd)

	minioListCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "user id or user/day prefix to filter by")
	minioPruneCmd.Flags().DurationVar(&minioOlderThan, "older-than", 0, "minimum age to delete (default: MINIO_LINK_TTL)")

	minioCmd.Example = `  # list everything delivered to user 42
  vkmbot minio list -p 42/

  # drop files whose links have expired
  vkmbot minio prune`
}
