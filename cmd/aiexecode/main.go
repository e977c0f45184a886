package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kstost/aiexecode/agent"
	"github.com/kstost/aiexecode/config"
	"github.com/kstost/aiexecode/llm"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workingDir string
	yes        bool

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aiexecode",
	Short: "aiexecode - autonomous coding agent",
	Long: `aiexecode runs an autonomous coding agent session: give it a mission and
it plans, edits files, and runs commands in the working directory until an
independent completion judge decides the mission is done.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [mission]",
	Short: "Run a new agent session with the given mission",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(strings.Join(args, " "), "")
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue [session-id] [instruction]",
	Short: "Resume a stored session with a follow-up instruction",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(strings.Join(args[1:], " "), args[0])
	},
}

var showCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print the reconstructed event log of a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store := agent.NewStore(cfg.HistoryDir, cfg.HistoryRetention)
		rec, err := store.Find(args[0])
		if err != nil {
			return err
		}
		for _, ev := range agent.ReconstructEventLog(*rec) {
			switch ev.Kind {
			case "user":
				fmt.Printf("> %s\n", ev.Text)
			case "assistant":
				fmt.Printf("%s\n", ev.Text)
			case "tool_start":
				fmt.Printf("[tool] %s %s\n", ev.ToolName, ev.Payload)
			case "tool_result":
				fmt.Printf("[result] %s\n", ev.Payload)
			}
		}
		return nil
	},
}

func runSession(instruction, sessionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("no API key: set %s", cfg.APIKeyEnv)
	}

	provider, err := llm.NewGollmProvider(cfg.Provider,
		llm.WithAPIKey(apiKey),
		llm.WithModel(cfg.Model),
	)
	if err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	env := agent.NewLocalExecutionEnvironment(workingDir)

	agentCfg := agent.DefaultConfig()
	agentCfg.Model = cfg.Model
	agentCfg.JudgeModel = cfg.JudgeModel
	agentCfg.WorkingDir = env.WorkingDirectory()
	agentCfg.HistoryDir = cfg.HistoryDir
	agentCfg.HistoryRetention = cfg.HistoryRetention
	agentCfg.MaxIterations = cfg.MaxIterations
	agentCfg.CommandTimeoutMs = cfg.CommandTimeoutMs

	ctrl := agent.NewController(provider, env, agentCfg)
	ctrl.SetLogger(logger)
	ctrl.AlwaysAllow(cfg.AlwaysAllow...)
	if yes {
		ctrl.SetApprovalFunc(func(string, json.RawMessage) agent.Decision {
			return agent.DecisionAllowOnce
		})
	} else {
		ctrl.SetApprovalFunc(promptApproval)
	}

	if sessionID != "" {
		store := agent.NewStore(cfg.HistoryDir, cfg.HistoryRetention)
		rec, err := store.Find(sessionID)
		if err != nil {
			return err
		}
		ctrl.Resume(rec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printEvents(ctrl.Events())
	}()

	result, err := ctrl.Run(ctx, instruction)
	wg.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("\nsession %s finished: %s (iterations: %d)\n", result.SessionID, result.State, result.Iterations)
	if result.Warning != "" {
		fmt.Printf("warning: %s\n", result.Warning)
	}
	return sessionExitError(result)
}

// errMissionUnsolved drives a nonzero exit code for an unsolved mission
// after the deferred cleanup and the logger flush have run. The session
// summary has already been printed, so main never reprints it.
var errMissionUnsolved = errors.New("mission was not solved")

func sessionExitError(result agent.Result) error {
	if result.MissionSolved {
		return nil
	}
	return errMissionUnsolved
}

func printEvents(events <-chan agent.SessionEvent) {
	for ev := range events {
		switch ev.Kind {
		case agent.EventAssistantMessage:
			fmt.Printf("\n%v\n", ev.Data["text"])
		case agent.EventToolStart:
			fmt.Printf("[%v] ...\n", ev.Data["tool_name"])
		case agent.EventToolResult:
			fmt.Printf("[%v] ok=%v\n", ev.Data["tool_name"], ev.Data["ok"])
		case agent.EventWarning:
			fmt.Fprintf(os.Stderr, "warning: %v\n", ev.Data["warning"])
		case agent.EventError:
			fmt.Fprintf(os.Stderr, "error: %v\n", ev.Data["error"])
		}
	}
}

// promptApproval asks on the terminal before a mutating tool runs.
func promptApproval(toolName string, args json.RawMessage) agent.Decision {
	fmt.Printf("\n%s wants to run with arguments:\n%s\n", toolName, string(args))
	fmt.Print("Allow? [y]es / [a]lways / [n]o: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return agent.DecisionDeny
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return agent.DecisionAllowOnce
	case "a", "always":
		return agent.DecisionAllowAlways
	default:
		return agent.DecisionDeny
	}
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&workingDir, "dir", "d", "", "working directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "approve all tool calls without prompting")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(showCmd)

	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		if !errors.Is(err, errMissionUnsolved) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
