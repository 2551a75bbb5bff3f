// Command kvctl is the CLI client built with Cobra.
//
// Usage:
//
//	kvctl put mykey "hello world"   --gateway http://localhost:9300
//	kvctl get mykey                 --gateway http://localhost:9300
//	kvctl status                    --gateway http://localhost:9400
//	kvctl spawn                     --gateway http://localhost:9400
//	kvctl kill follower-1           --gateway http://localhost:9400
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/workshop/quorumkv/internal/client"
)

var (
	target  string
	timeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "CLI client for quorumkv",
	}

	root.PersistentFlags().StringVarP(&target, "gateway", "g",
		"http://localhost:9300", "gateway (or coordinator, for spawn/kill/status) base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), statusCmd(), spawnCmd(), killCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write a key-value pair through the gateway",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(target, timeout)
			version, err := c.Put(context.Background(), args[0], args[1])
			if err != nil {
				return describeErr(err)
			}
			fmt.Printf("ok, version=%d\n", version)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key's value through the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(target, timeout)
			resp, err := c.Get(context.Background(), args[0])
			if err != nil {
				return describeErr(err)
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the coordinator's current cluster layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(target, timeout)
			resp, err := c.Status(context.Background())
			if err != nil {
				return describeErr(err)
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func spawnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn",
		Short: "Ask the coordinator to spawn a new follower (or respawn a pruned one)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(target, timeout)
			resp, err := c.Spawn(context.Background())
			if err != nil {
				return describeErr(err)
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <node_id>",
		Short: "Ask the coordinator to terminate a follower process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(target, timeout)
			if err := c.Kill(context.Background(), args[0]); err != nil {
				return describeErr(err)
			}
			fmt.Printf("killed %q\n", args[0])
			return nil
		},
	}
}

func describeErr(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s", apiErr.Error())
	}
	return err
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
