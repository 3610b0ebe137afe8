package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidewater-ai/conduit/providers"
)

// providerInfo drives the init wizard: a short pitch and where to get a key.
type providerInfo struct {
	provider providers.Provider
	blurb    string
	signup   string
}

var wizardProviders = []providerInfo{
	{providers.Groq, "very fast free tier, Llama models", "https://console.groq.com/keys"},
	{providers.DeepSeek, "strong code models, generous free tier", "https://platform.deepseek.com/api_keys"},
	{providers.Together, "broad open-model catalog with free endpoints", "https://api.together.xyz/settings/api-keys"},
	{providers.Google, "Gemini free tier", "https://aistudio.google.com/apikey"},
	{providers.HuggingFace, "hosted inference for open models", "https://huggingface.co/settings/tokens"},
	{providers.Mistral, "European provider with a free tier", "https://console.mistral.ai/api-keys"},
	{providers.OpenAI, "paid; GPT models as fallback", "https://platform.openai.com/api-keys"},
	{providers.Anthropic, "paid; Claude models as fallback", "https://console.anthropic.com/settings/keys"},
	{providers.Cohere, "classification-oriented models", "https://dashboard.cohere.com/api-keys"},
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively store provider credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "conduit setup — press Enter to skip a provider.")
			fmt.Fprintln(out)

			added := 0
			for _, info := range wizardProviders {
				fmt.Fprintf(out, "%s — %s\n  keys: %s\n", info.provider, info.blurb, info.signup)
				token, err := readToken(cmd, fmt.Sprintf("  token for %s (blank to skip): ", info.provider))
				if err != nil {
					return err
				}
				if token == "" {
					fmt.Fprintln(out)
					continue
				}
				if err := app.creds.Put(ctx, info.provider, token, ""); err != nil {
					return err
				}
				added++
				fmt.Fprintf(out, "  stored.\n\n")
			}

			if added == 0 {
				fmt.Fprintln(out, "No credentials stored. You can rerun `conduit init` any time.")
				return nil
			}
			fmt.Fprintf(out, "Stored %d credential(s). Try: conduit generate --prompt \"hello\"\n", added)
			fmt.Fprintln(out, "For AWS Bedrock, set providers.bedrock.region in the config file instead.")
			return nil
		},
	}
}
