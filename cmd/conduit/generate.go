package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tidewater-ai/conduit"
)

type generateFlags struct {
	prompt       string
	promptFile   string
	contextFiles []string
	outputFile   string
	provider     string
	model        string
	workload     string
	complexity   string
	quality      string
	speed        string
	guardrail    string
	tags         []string
	meta         []string
	format       string
	emitMetadata bool
}

func newGenerateCmd() *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Produce a completion through the router",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			req, err := buildGenerateRequest(flags)
			if err != nil {
				return err
			}

			resp, err := app.router.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			rendered, err := renderResponse(resp, flags.format, flags.emitMetadata)
			if err != nil {
				return err
			}
			if flags.outputFile != "" {
				return os.WriteFile(flags.outputFile, []byte(rendered), 0o644)
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "inline prompt text")
	cmd.Flags().StringVar(&flags.promptFile, "prompt-file", "", "read the prompt from a file")
	cmd.Flags().StringArrayVar(&flags.contextFiles, "context-file", nil, "file prepended to the prompt as context (repeatable)")
	cmd.Flags().StringVarP(&flags.outputFile, "output-file", "o", "", "write the completion to a file instead of stdout")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "force a provider")
	cmd.Flags().StringVar(&flags.model, "model", "", "force a model")
	cmd.Flags().StringVar(&flags.workload, "workload", "", "workload hint (chat, code, summarization, extraction, creative, classification)")
	cmd.Flags().StringVar(&flags.complexity, "complexity", "", "complexity hint (low, medium, high)")
	cmd.Flags().StringVar(&flags.quality, "quality", "", "quality hint (standard, balanced, premium)")
	cmd.Flags().StringVar(&flags.speed, "speed", "", "speed hint (fast, normal)")
	cmd.Flags().StringVar(&flags.guardrail, "guardrail", "", "guardrail hint (strict, lenient)")
	cmd.Flags().StringArrayVar(&flags.tags, "tag", nil, "free-form routing tag (repeatable)")
	cmd.Flags().StringArrayVar(&flags.meta, "meta", nil, "request metadata as key=value (repeatable)")
	cmd.Flags().StringVar(&flags.format, "format", "text", "output format (text, markdown, json)")
	cmd.Flags().BoolVar(&flags.emitMetadata, "emit-metadata", false, "include provider, model, and latency in the output")
	return cmd
}

func buildGenerateRequest(flags generateFlags) (conduit.Request, error) {
	prompt := flags.prompt
	if flags.promptFile != "" {
		if prompt != "" {
			return conduit.Request{}, conduit.NewRouteError(conduit.CodeInvalidRequest,
				"--prompt and --prompt-file are mutually exclusive", nil)
		}
		data, err := os.ReadFile(flags.promptFile)
		if err != nil {
			return conduit.Request{}, conduit.NewRouteError(conduit.CodeInvalidRequest,
				fmt.Sprintf("read prompt file: %v", err), err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return conduit.Request{}, conduit.NewRouteError(conduit.CodeInvalidRequest,
			"a prompt is required (--prompt or --prompt-file)", nil)
	}

	var b strings.Builder
	for i, path := range flags.contextFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return conduit.Request{}, conduit.NewRouteError(conduit.CodeInvalidRequest,
				fmt.Sprintf("read context file: %v", err), err)
		}
		fmt.Fprintf(&b, "Context %d (%s):\n%s\n\n", i+1, path, strings.TrimSpace(string(data)))
	}
	b.WriteString(prompt)

	metadata := make(map[string]string)
	for _, kv := range flags.meta {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return conduit.Request{}, conduit.NewRouteError(conduit.CodeInvalidRequest,
				fmt.Sprintf("--meta %q is not key=value", kv), nil)
		}
		metadata[key] = value
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	return conduit.Request{
		Prompt: b.String(),
		Model:  flags.model,
		Hints: conduit.Hints{
			Provider:   flags.provider,
			Workload:   flags.workload,
			Complexity: flags.complexity,
			Quality:    flags.quality,
			Speed:      flags.speed,
			Guardrail:  flags.guardrail,
			Tags:       flags.tags,
		},
		Metadata: metadata,
	}, nil
}

func renderResponse(resp *conduit.Response, format string, emitMetadata bool) (string, error) {
	switch format {
	case "json":
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil

	case "markdown":
		var b strings.Builder
		b.WriteString(resp.Content)
		if !strings.HasSuffix(resp.Content, "\n") {
			b.WriteString("\n")
		}
		if emitMetadata {
			fmt.Fprintf(&b, "\n---\n*provider: %s · model: %s · %d ms*\n", resp.Provider, resp.Model, resp.LatencyMS)
		}
		return b.String(), nil

	case "text":
		var b strings.Builder
		b.WriteString(resp.Content)
		if !strings.HasSuffix(resp.Content, "\n") {
			b.WriteString("\n")
		}
		if emitMetadata {
			fmt.Fprintf(&b, "\n[provider=%s model=%s latency=%dms tokens=%d]\n",
				resp.Provider, resp.Model, resp.LatencyMS, resp.Usage.TotalTokens)
		}
		return b.String(), nil

	default:
		return "", conduit.NewRouteError(conduit.CodeInvalidRequest,
			fmt.Sprintf("unknown format %q (use text, markdown, or json)", format), nil)
	}
}
