package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/providers"
)

func newAddServiceCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "add-service <provider>",
		Short: "Store an API token for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := providers.Parse(args[0])
			if err != nil {
				return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
			}
			if p == providers.Bedrock {
				return conduit.NewRouteError(conduit.CodeInvalidRequest,
					"bedrock uses the AWS credential chain; enable it in config instead", nil)
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			token, err := readToken(cmd, fmt.Sprintf("API token for %s: ", p))
			if err != nil {
				return err
			}
			if token == "" {
				return conduit.NewRouteError(conduit.CodeInvalidRequest, "token must not be empty", nil)
			}

			if err := app.creds.Put(cmd.Context(), p, token, baseURL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credential for %s.\n", p)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "override the provider endpoint")
	return cmd
}

// readToken reads a secret without echo when stdin is a terminal, and falls
// back to a plain line read for pipes and tests.
func readToken(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newRemoveServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-service <provider>",
		Short: "Delete a stored provider credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := providers.Parse(args[0])
			if err != nil {
				return conduit.NewRouteError(conduit.CodeInvalidRequest, err.Error(), err)
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.creds.Delete(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed credential for %s.\n", p)
			return nil
		},
	}
}

func newListServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-services",
		Short: "List providers with stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			stored, err := app.creds.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored. Run `conduit init` or `conduit add-service <provider>`.")
				return nil
			}
			for _, p := range stored {
				override, err := app.creds.BaseURLOverride(cmd.Context(), p)
				if err != nil {
					return err
				}
				if override != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t(endpoint: %s)\n", p, override)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
