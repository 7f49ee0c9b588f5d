package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/agent"
	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/flow"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/tool"
)

type globalFlags struct {
	configPath string
	envFile    string
	provider   string
	model      string
	maxTurns   int
}

type runFlags struct {
	showThinking bool
	showTools    bool
	summary      bool
	jsonOutput   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "agentstream",
		Short:         "Run a tool-using LLM agent with live streaming output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "", "config file (yaml, json or toml)")
	pf.StringVar(&gf.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVarP(&gf.provider, "provider", "p", "", "model provider (anthropic, openai, gemini, ollama)")
	pf.StringVarP(&gf.model, "model", "m", "", "model name")
	pf.IntVar(&gf.maxTurns, "max-turns", 0, "maximum model requests per run")

	root.AddCommand(
		newRunCmd(&gf),
		newChatCmd(&gf),
		newToolsCmd(),
		newConfigCmd(&gf),
	)
	return root
}

func configOptions(gf *globalFlags) func(o *config.Options) {
	return func(o *config.Options) {
		o.EnvFiles = []string{gf.envFile}
		o.Overrides = map[string]any{}
		if gf.provider != "" {
			o.Overrides["provider"] = gf.provider
		}
		if gf.model != "" {
			o.Overrides["model"] = gf.model
		}
		if gf.maxTurns > 0 {
			o.Overrides["max_turns"] = gf.maxTurns
		}
	}
}

func buildAgent(gf *globalFlags, mem core.MemoryProvider) (*agent.Agent, error) {
	return agentstream.New("agentstream", func(o *agentstream.Options) {
		o.ConfigPath = gf.configPath
		o.Config = []func(o *config.Options){configOptions(gf)}
		o.Tools = builtinTools()
		if mem != nil {
			o.Memory = mem
		}
	})
}

func newRunCmd(gf *globalFlags) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run [instruction]",
		Short: "Answer a single instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildAgent(gf, nil)
			if err != nil {
				return err
			}
			return runOnce(ctx, a, strings.Join(args, " "), rf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addRunFlags(cmd, &rf)
	return cmd
}

func newChatCmd(gf *globalFlags) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a conversation on standard input",
		Long:  "Reads one instruction per line. Lines starting with /remember are stored in memory; /reset clears the conversation.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mem := memory.NewInMemoryStore()
			a, err := buildAgent(gf, mem)
			if err != nil {
				return err
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(errOut, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/reset":
					a.Reset()
					continue
				case strings.HasPrefix(line, "/remember "):
					if _, err := mem.Store(ctx, strings.TrimPrefix(line, "/remember "), nil); err != nil {
						fmt.Fprintln(errOut, "Error:", err)
					}
					continue
				}

				err := runOnce(ctx, a, line, rf, out, errOut)
				if core.IsKind(err, core.ErrCancelled) {
					return nil
				}
				if err != nil {
					fmt.Fprintln(errOut, "Error:", err)
				}
			}
		},
	}
	addRunFlags(cmd, &rf)
	return cmd
}

func addRunFlags(cmd *cobra.Command, rf *runFlags) {
	f := cmd.Flags()
	f.BoolVar(&rf.showThinking, "thinking", false, "print reasoning deltas to stderr")
	f.BoolVar(&rf.showTools, "show-tools", true, "print tool calls to stderr")
	f.BoolVar(&rf.summary, "summary", false, "print a run summary to stderr")
	f.BoolVar(&rf.jsonOutput, "json", false, "print the result as JSON instead of streaming text")
}

func runOnce(ctx context.Context, a *agent.Agent, input string, rf runFlags, out, errOut io.Writer) error {
	handler := func(ev flow.Event) {
		switch {
		case ev.Type == flow.EventPartUpdate && ev.PartType == core.PartTypeText && !rf.jsonOutput:
			fmt.Fprint(out, ev.Delta)
		case ev.Type == flow.EventPartUpdate && ev.PartType == core.PartTypeThinking && rf.showThinking:
			fmt.Fprint(errOut, ev.Delta)
		case ev.Type == flow.EventPartStart && ev.PartType == core.PartTypeToolCall && rf.showTools:
			fmt.Fprintf(errOut, "\n[tool %s]\n", ev.ToolName)
		case ev.Type == flow.EventPartEnd && ev.PartType == core.PartTypeText && !rf.jsonOutput:
			fmt.Fprintln(out)
		}
	}

	res, err := a.Run(ctx, input, handler)
	if err != nil && !core.IsKind(err, core.ErrMaxTurnsExceeded) {
		return err
	}

	if rf.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(map[string]any{"response": res.Response, "usage": res.Usage, "turns": res.Turns}); encErr != nil {
			return encErr
		}
	}
	if rf.summary {
		fmt.Fprintln(errOut, summaryTable(res))
	}
	return err
}

func summaryTable(res flow.Result) string {
	table := uitable.New()
	table.RightAlign(0)
	table.Separator = " "
	table.AddRow("turns:", res.Turns)
	table.AddRow("input tokens:", res.Usage.InputTokens)
	table.AddRow("output tokens:", res.Usage.OutputTokens)
	for _, rec := range res.ToolCalls {
		status := "ok"
		if rec.Result != nil && rec.Result.IsError {
			status = string(rec.Result.Kind)
		}
		table.AddRow(fmt.Sprintf("tool %s:", rec.Name), status)
	}
	if res.MaxTurnsExceeded {
		table.AddRow("stopped:", "turn limit reached")
	}
	return table.String()
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := tool.NewRegistry(builtinTools()...)
			if err != nil {
				return err
			}
			table := uitable.New()
			table.MaxColWidth = 60
			table.Wrap = true
			table.AddRow("NAME", "DESCRIPTION")
			for _, def := range reg.Definitions() {
				table.AddRow(def.Name, def.Description)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newConfigCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(gf.configPath, configOptions(gf))
			if err != nil {
				return err
			}
			s := cfg.Settings()
			if s.APIKey != "" {
				s.APIKey = "********"
			}

			table := uitable.New()
			table.RightAlign(0)
			table.Separator = " "
			table.AddRow("provider:", orDash(s.Provider))
			table.AddRow("model:", orDash(s.Model))
			table.AddRow("api key:", orDash(s.APIKey))
			table.AddRow("base url:", orDash(s.BaseURL))
			table.AddRow("max turns:", s.MaxTurns)
			table.AddRow("tool timeout:", s.ToolTimeout)
			table.AddRow("request timeout:", s.RequestTimeout)
			table.AddRow("log:", s.Log.Level+"/"+s.Log.Format)
			fmt.Fprintln(cmd.OutOrStdout(), table)

			if _, err := cfg.NewModel(); err != nil {
				var cerr *core.Error
				if errors.As(err, &cerr) {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", cerr.Message)
				}
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
