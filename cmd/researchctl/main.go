package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/app"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/logging"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/provenance"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger  = logging.New
	buildApp   = app.Build
	httpClient = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "researchctl",
		Short:        "Ask research questions and export their provenance",
		SilenceUsage: true,
	}
	root.AddCommand(newAskCmd(), newExportCmd())
	return root
}

type askOptions struct {
	model  string
	effort string
	output string
	quiet  bool
}

func newAskCmd() *cobra.Command {
	opts := askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Research a question in-process and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.model, "model", "", "model override, optionally prefixed with the provider (openai:gpt-4.1)")
	cmd.Flags().StringVar(&opts.effort, "effort", "", "research effort: low, medium or high")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func runAsk(cmd *cobra.Command, question string, opts askOptions) error {
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unsupported output %q", opts.output)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	engine, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	effort := opts.effort
	if effort == "" {
		effort = cfg.ResearchEffort
	}
	sessionID := uuid.NewString()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	subCtx, stopProgress := context.WithCancel(ctx)
	done := make(chan struct{})
	progress := engine.Broker.Subscribe(subCtx, sessionID)
	go func() {
		defer close(done)
		for event := range progress {
			if !opts.quiet && event.Stage == events.StageProgress {
				fmt.Fprintf(cmd.ErrOrStderr(), "… %s\n", event.Message)
			}
		}
	}()

	output, err := engine.Activities.RunResearch(ctx, workflows.ResearchInput{
		SessionID: sessionID,
		Query:     question,
		Model:     opts.model,
		Effort:    string(llm.ParseEffort(effort)),
	})
	stopProgress()
	<-done
	if err != nil {
		engine.Logger.Debug("research failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	if opts.output == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}
	printResult(out, sessionID, output.Result)
	return nil
}

func printResult(w io.Writer, sessionID string, result *research.Result) {
	if result == nil {
		return
	}
	fmt.Fprintln(w, result.Synthesis)
	if len(result.Sections) > 0 {
		fmt.Fprintln(w)
		for _, section := range result.Sections {
			fmt.Fprintf(w, "## %s\n%s\n\n", section.Topic, section.Research)
		}
	}
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, source := range result.Sources {
			title := source.Title
			if title == "" {
				title = source.URL
			}
			fmt.Fprintf(w, "  [%d] %s <%s>\n", i+1, title, source.URL)
		}
	}
	fmt.Fprintf(w, "\nquery type: %s  confidence: %.2f  session: %s\n", result.QueryType, result.ConfidenceScore, sessionID)
}

type exportOptions struct {
	format    string
	engineURL string
	file      string
}

func newExportCmd() *cobra.Command {
	opts := exportOptions{}
	cmd := &cobra.Command{
		Use:   "export [session-id]",
		Short: "Download the provenance export of a stored session from the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "export format: json, markdown, csv or flow")
	cmd.Flags().StringVar(&opts.engineURL, "engine-url", "", "research engine base URL (defaults to RESEARCH_ENGINE_URL)")
	cmd.Flags().StringVar(&opts.file, "file", "", "write the export to this file instead of stdout")
	return cmd
}

func runExport(cmd *cobra.Command, sessionID string, opts exportOptions) error {
	format, ok := provenance.ParseFormat(opts.format)
	if !ok {
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	base := opts.engineURL
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base = cfg.EngineURL
	}
	endpoint := strings.TrimRight(base, "/") + "/sessions/" + url.PathEscape(sessionID) + "/export?format=" + url.QueryEscape(string(format))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch export: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if opts.file == "" {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(opts.file, body, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s export of %s to %s\n", format, sessionID, opts.file)
	return nil
}
