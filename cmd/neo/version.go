package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// AppVersion is stamped at build time via -ldflags "-X ...cli.AppVersion=v1.2.3".
var AppVersion = "dev"

// VersionCmd prints the build version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neo %s (%s/%s, %s)\n", AppVersion, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
