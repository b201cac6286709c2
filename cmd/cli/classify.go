package cli

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/cmd/server"
	"github.com/axellelanca/linkcloak/internal/database"
)

var (
	ipFlag      string
	uaFlag      string
	offlineFlag bool
)

// ClassifyCmd runs the visitor classifier on one ip and user agent, the same
// way the redirect handler does.
var ClassifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a visitor by IP and User-Agent",
	Long: `Classify prints the verdict the redirect server would reach for a visit.

Example:
  linkcloak classify --ip=113.161.1.1 --ua="Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"
  linkcloak classify --ua="facebookexternalhit/1.1" --offline`,
	RunE: func(c *cobra.Command, args []string) error {
		cfg := cmd.Cfg

		var rdb *redis.Client
		if cfg.Redis.URL != "" && !offlineFlag {
			client, err := database.ConnectRedis(c.Context(), cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer client.Close()
			rdb = client
		}

		cls, err := server.NewClassifier(cfg, server.NewOracle(cfg, rdb, cmd.Logger), cmd.Logger)
		if err != nil {
			return err
		}

		verdict := cls.ClassifyAgent(ipFlag, uaFlag)
		if !offlineFlag {
			verdict = cls.Classify(c.Context(), ipFlag, uaFlag)
		}

		out, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	ClassifyCmd.Flags().StringVar(&ipFlag, "ip", "", "visitor IP address")
	ClassifyCmd.Flags().StringVar(&uaFlag, "ua", "", "visitor User-Agent")
	ClassifyCmd.Flags().BoolVar(&offlineFlag, "offline", false, "skip the reputation lookup")

	cmd.RootCmd.AddCommand(ClassifyCmd)
}
