package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"docmerge/internal/app"
	"docmerge/internal/auth"
	"docmerge/internal/config"
	"docmerge/internal/docmodel"
	"docmerge/internal/export"
	"docmerge/internal/rbac"
	"docmerge/internal/store"
)

// operator is the principal CLI commands act as.
var operator = app.Principal{Name: "cli", Role: rbac.RoleAdmin}

type mergeService interface {
	Plan(ctx context.Context, p app.Principal, input app.PlanInput) (docmodel.InsertionPoint, error)
	Merge(ctx context.Context, p app.Principal, input app.MergeInput) (app.MergeResponse, error)
	Decide(ctx context.Context, p app.Principal, token, choice string) (app.MergeResponse, error)
	Export(ctx context.Context, p app.Principal, input app.ExportInput) (*export.Result, error)
}

// connectFunc builds the service for one command and returns a cleanup.
type connectFunc func(ctx context.Context) (mergeService, func(), error)

func connect(ctx context.Context) (mergeService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	runtime, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return runtime.Service, runtime.Close, nil
}

func main() {
	if err := newRootCmd(connect).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(connectFn connectFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "docmerge",
		Short:        "Insert content into annotated documents without breaking annotations",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newPlanCmd(connectFn),
		newMergeCmd(connectFn),
		newDecideCmd(connectFn),
		newExportCmd(connectFn),
		newMigrateCmd(),
		newTokenCmd(config.Load),
	)
	return rootCmd
}

func newPlanCmd(connectFn connectFunc) *cobra.Command {
	var input app.PlanInput
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show where content would be inserted",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectFn(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			point, err := svc.Plan(cmd.Context(), operator, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), point)
		},
	}
	cmd.Flags().StringVar(&input.Ref, "ref", "", "Document id or URL")
	cmd.Flags().StringVar(&input.SectionHint, "section", "", "Target section heading")
	cmd.Flags().StringVar(&input.ConflictPolicy, "policy", "", "Conflict policy: preserve, ask or force")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newMergeCmd(connectFn connectFunc) *cobra.Command {
	var (
		input        app.MergeInput
		contentFile  string
		noInline     bool
		noSourceNote bool
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Insert content into a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				raw, err := readContent(cmd.InOrStdin(), contentFile)
				if err != nil {
					return err
				}
				input.Content = raw
			}
			if strings.TrimSpace(input.Content) == "" {
				return fmt.Errorf("content is required: pass --content or --file")
			}
			if noInline {
				input.Options.AddInlineAttribution = boolPtr(false)
			}
			if noSourceNote {
				input.Options.AddSourceComment = boolPtr(false)
			}

			svc, cleanup, err := connectFn(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			response, err := svc.Merge(cmd.Context(), operator, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), response)
		},
	}
	cmd.Flags().StringVar(&input.Ref, "ref", "", "Document id or URL")
	cmd.Flags().StringVar(&input.Content, "content", "", "Content to insert")
	cmd.Flags().StringVar(&contentFile, "file", "", "Read content from a file, or - for stdin")
	cmd.Flags().StringVar(&input.SectionHint, "section", "", "Target section heading")
	cmd.Flags().StringVar(&input.Options.ConflictPolicy, "policy", "", "Conflict policy: preserve, ask or force")
	cmd.Flags().StringVar(&input.Options.SourceDescription, "source", "", "Where the content came from")
	cmd.Flags().StringVar(&input.Options.ReplaceAnnotationID, "replace", "", "Replace the text under this annotation in place")
	cmd.Flags().BoolVar(&noInline, "no-inline-attribution", false, "Skip the inline (from: ...) marker")
	cmd.Flags().BoolVar(&noSourceNote, "no-source-comment", false, "Skip the source annotation")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newDecideCmd(connectFn connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "decide <token> <insert_before|insert_after|update_with_preservation>",
		Short: "Answer a pending merge decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectFn(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			response, err := svc.Decide(cmd.Context(), operator, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), response)
		},
	}
}

func newExportCmd(connectFn connectFunc) *cobra.Command {
	var (
		input app.ExportInput
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a document with its annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := connectFn(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			result, err := svc.Export(cmd.Context(), operator, input)
			if err != nil {
				return err
			}
			if out == "" {
				out = result.Filename
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(result.Data))
			if result.ArchiveKey != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", result.ArchiveKey)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Ref, "ref", "", "Document id or URL")
	cmd.Flags().StringVar(&input.Format, "format", "pdf", "Export format: pdf, html or docx")
	cmd.Flags().BoolVar(&input.IncludeAnnotations, "annotations", true, "Include annotations")
	cmd.Flags().BoolVar(&input.IncludeResolved, "resolved", false, "Include resolved annotations")
	cmd.Flags().BoolVar(&input.Archive, "archive", false, "Keep a copy in the export archive")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (defaults to the export filename)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir); err != nil {
				return err
			}
			log.Printf("migrations applied from %s", cfg.MigrationsDir)
			return nil
		},
	}

	var steps int
	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, steps); err != nil {
				return err
			}
			log.Printf("rolled back %d migration(s)", steps)
			return nil
		},
	}
	rollbackCmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back, 0 for all")

	migrateCmd.AddCommand(upCmd, rollbackCmd)
	return migrateCmd
}

func newTokenCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var (
		name   string
		role   string
		ttl    time.Duration
		static bool
		value  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token, or hash a static one with --static",
		RunE: func(cmd *cobra.Command, args []string) error {
			role = string(rbac.Normalize(role))
			if static {
				return printStaticToken(cmd.OutOrStdout(), value, role)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, claims, err := auth.Issue([]byte(cfg.TokenSecret), name, role, ttl, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":     token,
				"name":      claims.Name,
				"role":      claims.Role,
				"expiresAt": time.Unix(claims.Exp, 0).UTC(),
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Principal name recorded on merge runs")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleViewer), "Role: viewer, commenter, editor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&static, "static", false, "Print a bcrypt entry for DOCMERGE_API_TOKENS instead of a signed token")
	cmd.Flags().StringVar(&value, "value", "", "Static token to hash (generated when empty)")
	return cmd
}

// printStaticToken hashes token (or a fresh random one) and prints the
// DOCMERGE_API_TOKENS entry for it. The plaintext is shown once.
func printStaticToken(w io.Writer, token, role string) error {
	if token == "" {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		token = hex.EncodeToString(buf)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	return printJSON(w, map[string]any{
		"token": token,
		"role":  role,
		"entry": string(hash) + "=" + role,
	})
}

func readContent(stdin io.Reader, path string) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return string(raw), nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func boolPtr(v bool) *bool {
	return &v
}
