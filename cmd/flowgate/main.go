package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowgate/flowgate/internal/cli"
)

var rootCmd = &cobra.Command{Use: "flowgate"}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
