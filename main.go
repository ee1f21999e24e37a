package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vojkodrev/build/plan"
	"github.com/vojkodrev/build/rewrite"
	"github.com/vojkodrev/build/session"
)

var (
	version      = "dev"
	defaultPlan  string
	defaultShell []string
)

func init() {
	// Plan path and session shell from environment or defaults
	defaultPlan = os.Getenv("BUILD_PLAN")
	if defaultPlan == "" {
		defaultPlan = "build.yaml"
	}
	defaultShell = strings.Fields(os.Getenv("BUILD_SHELL"))
	if len(defaultShell) == 0 {
		defaultShell = platformShell()
	}
}

func platformShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd.exe"}
	}
	return []string{"sh"}
}

var (
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failStyle.Render("FAILED!"), err)
		os.Exit(1)
	}
}

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "build",
	Short: "Drive an interactive shell through a scripted build plan",
	Long: `Drive an interactive shell through a scripted build plan.

Each step waits for the shell's output to end with an expected prompt, writes
a command and judges the output against success and error markers.

The plan is read from the path given as argument, else from ` + "$BUILD_PLAN" + `,
else from build.yaml. Set BUILD_SHELL to change the default shell.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	runCmd.Flags().StringSliceVarP(&withKeys, "with", "w", nil, "activation keys to select (repeatable)")
	runCmd.Flags().BoolVar(&pick, "pick", false, "choose activation keys interactively")
	runCmd.Flags().BoolVar(&usePTY, "pty", false, "run the shell on a pseudo-terminal")
	runCmd.Flags().DurationVar(&stepTimeout, "step-timeout", 0, "fail a step that waits longer than this for its prompt (0 waits forever)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the steps that would run and exit")
	runCmd.Flags().BoolVar(&skipRewrites, "skip-rewrites", false, "do not apply the plan's file rewrites")
	runCmd.Flags().StringVar(&shellOverride, "shell", "", "shell command line, overrides the plan and BUILD_SHELL")

	stepsCmd.Flags().StringSliceVarP(&withKeys, "with", "w", nil, "activation keys to select (repeatable)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// Helper functions

func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func planArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultPlan
}

// selectFlags turns --with keys into a flag set, rejecting keys the plan
// does not declare.
func selectFlags(f *plan.File, keys []string) (plan.Flags, error) {
	flags := plan.NewFlags(keys...)
	declared := declaredKeys(f)
	var unknown []string
	for _, k := range flags.Keys() {
		if !slices.Contains(declared, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		msg := fmt.Sprintf("unknown activation keys: %s\nDeclared keys: %s",
			strings.Join(unknown, ", "), strings.Join(declared, ", "))
		for _, k := range unknown {
			if match := closestKey(k, declared); match != "" {
				msg += fmt.Sprintf("\nDid you mean %q instead of %q?", match, k)
			}
		}
		return nil, errors.New(msg)
	}
	return flags, nil
}

// closestKey suggests a declared key for a mistyped one: an abbreviation
// match first, else the nearest key within two edits.
func closestKey(key string, declared []string) string {
	if ranks := fuzzy.RankFindFold(key, declared); len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}
	best, bestDist := "", 3
	for _, d := range declared {
		if dist := fuzzy.LevenshteinDistance(key, d); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best
}

// declaredKeys lists the plan's activation keys: the flags table when it has
// one, else every key its steps reference.
func declaredKeys(f *plan.File) []string {
	if len(f.Flags) == 0 {
		return plan.Keys(f.Steps)
	}
	keys := make([]string, 0, len(f.Flags))
	for k := range f.Flags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func pickFlags(f *plan.File, preselected plan.Flags) (plan.Flags, error) {
	declared := declaredKeys(f)
	if len(declared) == 0 {
		return preselected, nil
	}

	options := make([]huh.Option[string], 0, len(declared))
	for _, k := range declared {
		label := k
		if desc := f.Flags[k]; desc != "" {
			label = fmt.Sprintf("%s - %s", k, desc)
		}
		options = append(options, huh.NewOption(label, k).Selected(preselected.Has(k)))
	}

	var selected []string
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Select activation keys").
			Options(options...).
			Value(&selected),
	))
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("failed to pick activation keys: %w", err)
	}
	return plan.NewFlags(selected...), nil
}

func sessionShell(f *plan.File) []string {
	if argv := strings.Fields(shellOverride); len(argv) > 0 {
		return argv
	}
	if len(f.Shell) > 0 {
		return f.Shell
	}
	return defaultShell
}

func printSteps(w io.Writer, steps []plan.Step, indent string) {
	for i, s := range steps {
		line := fmt.Sprintf("%s%d. %s", indent, i+1, s.Label())
		if s.Expect != "" {
			line += fmt.Sprintf("  expect %q", s.Expect)
		}
		if s.When != "" {
			line += fmt.Sprintf("  [when %s]", s.When)
		}
		fmt.Fprintln(w, line)
		if s.IsNested() {
			printSteps(w, s.Steps, indent+"   ")
		}
	}
}

// Commands

var (
	withKeys      []string
	pick          bool
	usePTY        bool
	stepTimeout   time.Duration
	dryRun        bool
	skipRewrites  bool
	shellOverride string
)

var runCmd = &cobra.Command{
	Use:   "run [plan]",
	Short: "Run a plan against a fresh shell",
	Long: `Run a plan against a fresh shell.

Examples:
  build run                          # plan from $BUILD_PLAN or build.yaml
  build run ci.yaml --with clean     # also run steps gated on "clean"
  build run --pick                   # choose activation keys interactively
  build run --pty --step-timeout 5m  # pseudo-terminal, bounded prompt wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}

		f, err := plan.Load(planArg(args))
		if err != nil {
			return err
		}
		flags, err := selectFlags(f, withKeys)
		if err != nil {
			return err
		}
		if pick {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("--pick needs a terminal; use --with to select keys")
			}
			if flags, err = pickFlags(f, flags); err != nil {
				return err
			}
		}

		if dryRun {
			printSteps(os.Stdout, plan.Filter(f.Steps, flags), "")
			return nil
		}

		if !skipRewrites {
			if _, err := rewrite.ApplyAll(f.Rewrites, logger); err != nil {
				return err
			}
		}

		spawn := session.SpawnPipes
		if usePTY {
			spawn = session.SpawnPTY
		}
		runner, err := session.NewRunner(session.Options{
			Shell:       sessionShell(f),
			Dir:         f.Dir,
			Flags:       flags,
			StepTimeout: stepTimeout,
			Stdout:      os.Stdout,
			Stderr:      os.Stderr,
			Logger:      logger,
			Spawn:       spawn,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		if err := runner.Run(ctx, f.Steps); err != nil {
			var stepErr *session.StepError
			if errors.As(err, &stepErr) {
				logger.Debug("failing step", "step", stepErr.Index+1, "stream", stepErr.Stream.String())
			}
			return err
		}

		fmt.Printf("%s Plan completed: %s\n", okStyle.Render("✓"), f.Path)
		return nil
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps [plan]",
	Short: "Print the steps a plan would run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := plan.Load(planArg(args))
		if err != nil {
			return err
		}
		flags, err := selectFlags(f, withKeys)
		if err != nil {
			return err
		}
		printSteps(os.Stdout, plan.Filter(f.Steps, flags), "")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [plan]",
	Short: "Load and validate a plan",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := plan.Load(planArg(args))
		if err != nil {
			return err
		}
		fmt.Printf("%s Plan is valid: %s (%d steps, %d rewrites)\n", okStyle.Render("✓"), f.Path, len(f.Steps), len(f.Rewrites))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("build version %s\n", version)
	},
}
