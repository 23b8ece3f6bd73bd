package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool

	config *Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "shiptotal",
	Short: "Show the price with delivery on product pages",
	Long: `shiptotal finds the price and delivery cost on a product page, adds them up
and shows the total right under the price. The total follows the page as it
re-renders, and disappears when delivery is free.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := InitLocale(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: locale initialization failed, using message keys: %v\n", err)
		}

		var err error
		config, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		zapConfig := zap.NewProductionConfig()
		if verbose || config.DebugMode {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if initUserDataDirError != nil {
			logger.Warn("cannot create user data directory",
				zap.String("path", getUserDataDir()), zap.Error(initUserDataDirError))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Open a product page in Chrome and keep its total up to date",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var annotateCmd = &cobra.Command{
	Use:   "annotate [file.html]",
	Short: "Add the total to a saved product page",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnotate,
}

var totalCmd = &cobra.Command{
	Use:   "total [file.html]",
	Short: "Print the total for a saved product page",
	Args:  cobra.ExactArgs(1),
	RunE:  runTotal,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	watchCmd.Flags().Bool("headless", false, "Run Chrome without a window")
	watchCmd.Flags().String("remote", "", "Attach to a running Chrome (e.g. localhost:9222) instead of launching one")
	watchCmd.Flags().String("profile", "", "Chrome profile directory (overrides config)")

	annotateCmd.Flags().StringP("out", "o", "-", "Output file, - for stdout")
	annotateCmd.Flags().Bool("follow", false, "Keep running and re-annotate whenever the file changes")

	rootCmd.AddCommand(watchCmd, annotateCmd, totalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	url := args[0]

	if cmd.Flags().Changed("headless") {
		config.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
		config.RemoteURL = remote
	}
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		config.BrowserProfilePath = profile
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := NewSession(ctx, config, logger)
	defer session.Close()

	if err := session.Setup(); err != nil {
		return err
	}
	page, err := session.Open(url)
	if err != nil {
		return err
	}

	pipeline := NewPipeline(config, logger)
	watcher := NewChangeWatcher(
		pipeline.Func(NewPageDocument(page)),
		WithQuietPeriod(config.QuietPeriod()),
		WithMutationSource(NewPageMutations(page, config.MarkerClass, logger)),
		WithWatcherLogger(logger),
	)
	if err := watcher.Start(session.Context()); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Println(T("watch_started"))
	<-session.Context().Done()
	fmt.Println(T("shutting_down"))
	return nil
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	input := args[0]
	out, _ := cmd.Flags().GetString("out")
	follow, _ := cmd.Flags().GetBool("follow")

	if follow && out != "-" && sameFile(input, out) {
		return errors.New("--follow needs an output file different from the input")
	}

	pipeline := NewPipeline(config, logger)
	annotate := func(ctx context.Context) (Result, error) {
		doc, err := parseHTMLFile(input)
		if err != nil {
			return Result{}, err
		}
		res, err := pipeline.Run(ctx, doc)
		if err != nil {
			return Result{}, err
		}
		if err := writeDocument(cmd.OutOrStdout(), out, doc); err != nil {
			return Result{}, err
		}
		return res, nil
	}

	if !follow {
		res, err := annotate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), describeResult(res))
		if out != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), T("annotate_written")+"\n", out)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := NewChangeWatcher(
		func(ctx context.Context) {
			res, err := annotate(ctx)
			if err != nil {
				logger.Debug("annotate failed", zap.String("file", input), zap.Error(err))
				return
			}
			fmt.Fprintln(cmd.ErrOrStderr(), describeResult(res))
		},
		WithQuietPeriod(config.QuietPeriod()),
		WithMutationSource(NewFileMutations(input, logger)),
		WithWatcherLogger(logger),
	)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Fprintf(cmd.ErrOrStderr(), T("follow_started")+"\n", input)
	<-ctx.Done()
	return nil
}

func runTotal(cmd *cobra.Command, args []string) error {
	doc, err := parseHTMLFile(args[0])
	if err != nil {
		return err
	}
	res, err := NewPipeline(config, logger).Run(cmd.Context(), doc)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
	return nil
}

func describeResult(res Result) string {
	switch res.Outcome {
	case OutcomeRendered:
		return T("outcome_rendered", res.Text)
	case OutcomeRemoved:
		return T("outcome_removed")
	default:
		return T("outcome_skipped")
	}
}

func parseHTMLFile(path string) (*HTMLDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseHTML(f)
}

func writeDocument(stdout io.Writer, out string, doc *HTMLDocument) error {
	if out == "-" {
		return doc.Render(stdout)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := doc.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

var initUserDataDirError error

func init() {
	userDataDir := getUserDataDir()
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		initUserDataDirError = err
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./shiptotal-data"
	}
	return filepath.Join(home, ".shiptotal")
}
