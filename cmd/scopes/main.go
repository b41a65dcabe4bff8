package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pbaille/scopes/internal/api"
	"github.com/pbaille/scopes/internal/config"
	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/form"
	"github.com/pbaille/scopes/internal/hierarchy"
	"github.com/pbaille/scopes/internal/logging"
	"github.com/pbaille/scopes/internal/selection"
	"github.com/pbaille/scopes/internal/store"
	"github.com/pbaille/scopes/internal/tui"
)

var (
	configPath string
	dbPath     string
	logMode    string
	serviceURL string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "scopes",
		Short:        "Pick textbook scopes and build custom exams",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "log preset: dev or prod (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "url", "", "scope service URL (overrides config)")

	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(pickCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(examsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Server.DB = dbPath
	}
	if logMode != "" {
		cfg.Log.Mode = logMode
	}
	if serviceURL != "" {
		cfg.Client.BaseURL = strings.TrimRight(serviceURL, "/")
	}
	return cfg, nil
}

func getStore(cfg *config.Config) (*store.Store, error) {
	// Ensure directory exists
	path := cfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(path)
}

func getClient(cfg *config.Config, log *logging.Logger) (*hierarchy.Client, error) {
	return hierarchy.New(cfg.Client.BaseURL,
		hierarchy.WithTimeout(cfg.Client.Timeout),
		hierarchy.WithUserAgent(cfg.Client.UserAgent),
		hierarchy.WithLogger(log.With("component", "hierarchy")),
	)
}

func formBounds(cfg *config.Config) *form.Bounds {
	if b := cfg.Exam.ProblemCount; b != nil {
		return &form.Bounds{Min: b.Min, Max: b.Max}
	}
	return nil
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(configPath); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", configPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scope service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Mode, cfg.Log.Level, cfg.Log.File)
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			server := api.New(s, addr, log.With("component", "api"))
			if b := cfg.Exam.ProblemCount; b != nil {
				server.SetBounds(&api.Bounds{Min: b.Min, Max: b.Max})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (overrides config)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import a textbook hierarchy from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			stats, err := s.Import(f)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d scopes (%d already present), %d problems (%d already present)\n",
				stats.Scopes, stats.Existing, stats.Problems, stats.Skipped)
			return nil
		},
	}
}

func treeCmd() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the scope hierarchy from the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Mode, cfg.Log.Level, cfg.LogFile(filepath.Join(config.HomeDir(), "logs", "scopes.log")))
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := getClient(cfg, log)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			roots, err := client.Roots(ctx)
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				fmt.Println("No textbooks yet. Use 'scopes import' to load some.")
				return nil
			}

			trees, err := client.Prefetch(ctx, roots, depth, cfg.Client.PrefetchWorkers)
			if err != nil {
				return err
			}

			// Print tree
			var printTree func(st *hierarchy.Subtree, indent int)
			printTree = func(st *hierarchy.Subtree, indent int) {
				prefix := strings.Repeat("  ", indent)
				fmt.Printf("%s%s  (%s %s)\n", prefix, st.Node.Title, st.Node.Level.Label(), st.Node.ID)
				if st.Err != nil {
					fmt.Printf("%s  (could not load items: %v)\n", prefix, st.Err)
				}
				for _, child := range st.Children {
					printTree(child, indent+1)
				}
			}
			for _, st := range trees {
				printTree(st, 0)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 3, "levels to load below the textbooks")
	return cmd
}

func pickCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Pick scopes interactively and create an exam",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if mode == "" {
				mode = cfg.Picker.Mode
			}
			m, err := domain.ParseMode(mode)
			if err != nil {
				return err
			}

			// The picker owns the terminal, so logs always go to a file
			log, err := logging.New(cfg.Log.Mode, cfg.Log.Level, cfg.LogFile(filepath.Join(config.HomeDir(), "logs", "scopes.log")))
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := getClient(cfg, log)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			roots, err := client.Roots(ctx)
			if err != nil {
				return fmt.Errorf("load textbooks: %w", err)
			}

			app := tui.NewApp(ctx, client, roots,
				tui.WithLogger(log.With("component", "picker")),
				tui.WithDebounce(cfg.Picker.SearchDebounce),
				tui.WithSubmitter(&form.HTTPSubmitter{BaseURL: cfg.Client.BaseURL}),
				tui.WithBounds(formBounds(cfg)),
				tui.WithMode(m),
			)
			if _, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return err
			}
			if exam := app.Exam(); exam != nil {
				printExam(exam)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "single or multi (overrides config)")
	return cmd
}

func createCmd() *cobra.Command {
	var (
		title    string
		target   string
		textbook string
		scopes   []string
		count    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an exam without the picker",
		Long: `Create an exam from the command line.

With --type and --textbook the exam covers one scope: the first
scope of the given type found under the textbook, as the picker
would preselect it. With --scope (repeatable, level:id) it covers
several scopes; a scope inside or above another given scope is
refused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Mode, cfg.Log.Level, cfg.Log.File)
			if err != nil {
				return err
			}
			defer log.Sync()

			client, err := getClient(cfg, log)
			if err != nil {
				return err
			}
			sel := selection.New()
			ctl := form.New(sel, client)
			ctl.SetLogger(log.With("component", "form"))
			ctl.SetTitle(title)
			ctl.SetBounds(formBounds(cfg))
			ctl.SetProblemCount(count)

			ctx := cmd.Context()
			if len(scopes) > 0 {
				ctl.SetMode(domain.ModeMulti)
				for _, raw := range scopes {
					ref, err := parseRef(raw)
					if err != nil {
						return err
					}
					if err := form.AddScope(ctx, sel, client, ref); err != nil {
						return err
					}
				}
			} else {
				ctl.SetMode(domain.ModeSingle)
				if target != "" {
					level, err := domain.ParseLevel(target)
					if err != nil {
						return err
					}
					ctl.SetTarget(level)
				}
				if textbook != "" {
					if err := ctl.Choose(ctx, domain.Textbook, textbook); err != nil {
						return err
					}
				}
			}

			exam, err := ctl.Submit(ctx, &form.HTTPSubmitter{BaseURL: cfg.Client.BaseURL})
			if err != nil {
				return err
			}
			printExam(exam)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "exam title")
	cmd.Flags().StringVar(&target, "type", "", "scope type for a single-scope exam")
	cmd.Flags().StringVar(&textbook, "textbook", "", "textbook id for a single-scope exam")
	cmd.Flags().StringArrayVarP(&scopes, "scope", "s", nil, "scope as level:id, repeatable")
	cmd.Flags().StringVarP(&count, "count", "n", "", "number of problems")
	return cmd
}

func parseRef(raw string) (domain.Ref, error) {
	levelPart, id, ok := strings.Cut(raw, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return domain.Ref{}, fmt.Errorf("scope %q: want level:id", raw)
	}
	level, err := domain.ParseLevel(levelPart)
	if err != nil {
		return domain.Ref{}, fmt.Errorf("scope %q: %w", raw, err)
	}
	return domain.Ref{Level: level, ID: strings.TrimSpace(id)}, nil
}

func examsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "exams [id]",
		Short: "List stored exams or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 1 {
				exam, err := s.GetExam(args[0])
				if err != nil {
					return err
				}
				printExam(exam)
				return nil
			}

			exams, err := s.ListExams(limit, 0)
			if err != nil {
				return err
			}
			if len(exams) == 0 {
				fmt.Println("No exams yet. Use 'scopes pick' to create one.")
				return nil
			}
			for _, e := range exams {
				fmt.Printf("%s  %-6s %3d  %s\n", e.ID[:8], e.Mode, e.ProblemCount, truncate(e.Title, 50))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of exams to show")
	return cmd
}

func printExam(e *domain.Exam) {
	fmt.Printf("ID:       %s\n", e.ID)
	fmt.Printf("Title:    %s\n", e.Title)
	fmt.Printf("Mode:     %s\n", e.Mode)
	if !e.CreatedAt.IsZero() {
		fmt.Printf("Created:  %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Problems: %d\n", e.ProblemCount)
	if len(e.Scopes) > 0 {
		fmt.Printf("Scopes:\n")
		for _, r := range e.Scopes {
			fmt.Printf("  - %s\n", r)
		}
	}
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
