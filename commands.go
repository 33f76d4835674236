package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AaronKronberg/OpusPipeline/internal/executor"
	"github.com/AaronKronberg/OpusPipeline/internal/gitdiff"
	"github.com/AaronKronberg/OpusPipeline/internal/knowledge"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/queue"
)

type opener func() (*app, error)

func newServeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the task tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			client := queue.NewClient(a.redis())
			defer client.Close()

			t := &tools{
				store:      a.store,
				tracker:    a.tracker,
				composer:   a.composer,
				resolver:   a.resolver,
				dispatcher: executor.NewDispatcher(a.deps(), client, a.queueOptions()),
				models:     a.completer,
				profiles:   a.cfg.Models,
				log:        a.log.Named("mcp"),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.log.Info("mcp server listening on stdio", zap.String("database", a.cfg.Database.Path))
			return newServer(t).Run(ctx, &mcp.StdioTransport{})
		},
	}
}

func newWorkerCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queued tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()
			w := a.cfg.Worker

			h := executor.NewHandler(a.deps(), a.completer, &gitdiff.CLI{Log: a.log.Named("git")})
			mux := asynq.NewServeMux()
			h.Register(mux)

			if addr := a.cfg.Metrics.Addr; addr != "" {
				hm := http.NewServeMux()
				hm.Handle("/metrics", a.metrics.Handler())
				ms := &http.Server{Addr: addr, Handler: hm}
				go func() {
					if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server", zap.Error(err))
					}
				}()
				defer ms.Close()
				a.log.Info("serving metrics", zap.String("addr", addr))
			}

			srv := asynq.NewServer(a.redis(), executor.ServerConfig(w.Concurrency, w.Queue, w.RetryBaseDelay, w.RetryMaxDelay, a.log))
			a.log.Info("worker starting",
				zap.String("redis", a.cfg.Redis.Addr), zap.String("queue", w.Queue), zap.Int("concurrency", w.Concurrency))
			// Run blocks until SIGINT or SIGTERM and drains in-flight jobs.
			return srv.Run(mux)
		},
	}
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", a.cfg.Database.Path)
			return nil
		},
	}
}

func newTemplatesCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage prompt templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load <file.yaml>",
		Short: "Create or overwrite templates from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			templates, err := prompt.LoadTemplates(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()
			created, updated, err := a.store.UpsertTemplates(cmd.Context(), templates)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d templates created, %d updated\n", created, updated)
			return nil
		},
	})
	return cmd
}

func newKBCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()
			b, err := a.knowledge.CreateBase(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "what the base holds")

	var title, source string
	addDoc := &cobra.Command{
		Use:   "add-doc <kb> <file>",
		Short: "Add a text file to a knowledge base (by id or name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()
			if source == "" {
				source = args[1]
			}
			doc := &knowledge.Document{KnowledgeBaseID: args[0], Title: title, Content: string(content), Source: source}
			if err := a.knowledge.AddDocument(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		},
	}
	addDoc.Flags().StringVar(&title, "title", "", "document title (default: first line)")
	addDoc.Flags().StringVar(&source, "source", "", "where the text came from (default: the file path)")

	var limit int
	search := &cobra.Command{
		Use:   "search <kb> <query>",
		Short: "Rank a knowledge base's documents against a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()
			b, err := a.knowledge.GetBase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			hits, err := a.knowledge.Search(cmd.Context(), b.ID, args[1], limit)
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s  %s\n", h.Score, h.ID, h.Title)
			}
			return nil
		},
	}
	search.Flags().IntVar(&limit, "limit", 10, "maximum documents to show")

	cmd.AddCommand(create, addDoc, search)
	return cmd
}
