package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/printdialog/printdialog/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "printdialogd",
		Short: "Print dialog backend",
		Long: `printdialogd serves printer lists to print dialogs over a websocket bus.

Each connected dialog gets its own session with its own filters and
background discovery. The backend exits once the last dialog is gone
unless lifecycle.exit_when_idle is disabled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of printdialogd",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("printdialogd %s\n", version)
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate a random value for server.auth_token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := config.GenerateToken()
			if err != nil {
				return err
			}
			cmd.Println(tok)
			return nil
		},
	}
}
