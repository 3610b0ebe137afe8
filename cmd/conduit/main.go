// Command conduit is a multi-provider text generation router: one binary
// serving the HTTP gateway and the admin CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/internal/version"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Route text generation across hosted model providers",
		Long:          "conduit routes generation requests across multiple hosted model providers,\npreferring cheap fast providers and falling back when one is unhealthy.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newGenerateCmd(),
		newAddServiceCmd(),
		newRemoveServiceCmd(),
		newListServicesCmd(),
		newStatusCmd(),
		newListModelsCmd(),
		newAdoptModelCmd(),
		newRefreshModelsCmd(),
		newInitCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps routing failures onto the documented exit codes: 2 for bad
// input, 1 for everything else.
func exitCode(err error) int {
	var re *conduit.RouteError
	if errors.As(err, &re) && re.Code == conduit.CodeInvalidRequest {
		return 2
	}
	return 1
}
