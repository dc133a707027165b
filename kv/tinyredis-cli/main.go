package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pingcap-incubator/tinyredis/kv/server/api"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	client     *api.Client
)

func newRootCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "tinyredis-cli [command [arg ...]]",
		Short: "tinyredis command line client",
		Long: "Runs the given command in a fresh session and prints its reply. " +
			"Without a command it starts an interactive shell.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client = api.NewClient(serverAddr)
		},
		Args:                  cobra.ArbitraryArgs,
		Run:                   runRootCommandFunc,
		DisableFlagsInUseLine: true,
	}
	m.PersistentFlags().StringVarP(&serverAddr, "addr", "a", "127.0.0.1:6380", "server http api address")
	m.Flags().SetInterspersed(false)
	m.AddCommand(newStatusCommand())
	return m
}

func runRootCommandFunc(cmd *cobra.Command, args []string) {
	id, err := client.OpenSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open session failed: %v\n", err)
		os.Exit(1)
	}
	defer client.CloseSession(id)

	if len(args) == 0 {
		shellLoop(id)
		return
	}
	reply, err := client.Do(id, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	fmt.Println(reply.Format())
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			st, err := client.Status()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
