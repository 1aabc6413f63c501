package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgpsrx/rtrsec/internal/appversion"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print rtrc build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(appversion.Full("rtrc"))
		},
	}
}
