package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensensor/lightnvr/internal/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			fmt.Println(version.JSON())
			return nil
		}
		fmt.Println(version.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version info as JSON")
	rootCmd.AddCommand(versionCmd)
}
