package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lockarb/lockd/pkg/client"
)

func init() {
	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(statusCmd)

	acquireCmd.Flags().IntP("priority", "p", 5, "request priority; higher wins the queue")
	acquireCmd.Flags().Duration("ttl", 0, "lease duration; 0 uses the service default")
	acquireCmd.Flags().Bool("wait", false, "block until the lock is granted or max-wait elapses")
	acquireCmd.Flags().Duration("max-wait", 60*time.Second, "max time to wait when --wait is set")
	acquireCmd.Flags().Bool("reentrant", false, "allow the same agent to re-acquire its own lock")

	extendCmd.Flags().Duration("by", 60*time.Second, "additional lease duration")
}

func newClient() *client.Client {
	return client.New(viper.GetString("api.url"), viper.GetString("agent.id"))
}

var acquireCmd = &cobra.Command{
	Use:   "acquire <resource_type> <resource_id>",
	Short: "Acquire or queue for a resource lock",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		wait, _ := cmd.Flags().GetBool("wait")
		maxWait, _ := cmd.Flags().GetDuration("max-wait")
		reentrant, _ := cmd.Flags().GetBool("reentrant")

		c := newClient()
		res, err := c.Acquire(context.Background(), args[0], args[1], priority, ttl, reentrant, wait, maxWait)
		if err != nil {
			fail(err.Error())
			return err
		}

		switch res.Status {
		case "acquired":
			success(fmt.Sprintf("acquired lock %s on %s:%s (ttl=%ds)", res.LockID, args[0], args[1], res.TTLSeconds))
		case "queued":
			info(fmt.Sprintf("queued at position %d for %s:%s (lock_id=%s)", res.Position, args[0], args[1], res.LockID))
		default:
			info(fmt.Sprintf("status: %s", res.Status))
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <lock_id>",
	Short: "Release a held lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Release(context.Background(), args[0])
		if err != nil {
			fail(err.Error())
			return err
		}
		success(fmt.Sprintf("release: %s", res.Status))
		if res.NextAgent != "" {
			info(fmt.Sprintf("handed off to agent %s (lock_id=%s)", res.NextAgent, res.NextLockID))
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <resource_type> <resource_id>",
	Short: "Cancel a queued lock request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Cancel(context.Background(), args[0], args[1]); err != nil {
			fail(err.Error())
			return err
		}
		success("cancelled")
		return nil
	},
}

var extendCmd = &cobra.Command{
	Use:   "extend <lock_id>",
	Short: "Extend an active lock's lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetDuration("by")
		if err := newClient().Extend(context.Background(), args[0], by); err != nil {
			fail(err.Error())
			return err
		}
		success(fmt.Sprintf("extended by %s", by))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <lock_id>",
	Short: "Check a lock's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Status(context.Background(), args[0])
		if err != nil {
			fail(err.Error())
			return err
		}
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}
