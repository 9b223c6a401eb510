package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lockarb/lockd/pkg/client"
)

func init() {
	rootCmd.AddCommand(policyCheckCmd)
	policyCheckCmd.Flags().String("action", "", "action being checked (required)")
	policyCheckCmd.Flags().String("metadata", "{}", "JSON metadata for the check")
	policyCheckCmd.MarkFlagRequired("action")
}

var policyCheckCmd = &cobra.Command{
	Use:   "policy-check",
	Short: "Check whether an action is allowed by the service's policy rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		rawMetadata, _ := cmd.Flags().GetString("metadata")

		var metadata map[string]any
		if err := json.Unmarshal([]byte(rawMetadata), &metadata); err != nil {
			return fmt.Errorf("invalid --metadata JSON: %w", err)
		}

		c := client.New(viper.GetString("api.url"), viper.GetString("agent.id"))
		res, err := c.CheckPolicy(context.Background(), action, metadata)
		if err != nil {
			fail(err.Error())
			return err
		}

		if res.Allowed {
			success(res.Reason)
		} else {
			fail(res.Reason)
		}
		return nil
	},
}
