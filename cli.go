package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	"github.com/basedosdados/chatbot-sub000/internal/vectorstore"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatbot",
		Short:         "Ask questions about a SQL warehouse in plain language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAskCmd(), newClearCmd(), newSetupCmd())
	return root
}

type askOptions struct {
	thread  string
	rewrite bool
	stream  bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question, or start an interactive session when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			assistant, err := a.assistant(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("rewrite") {
				opts.rewrite = cfg.Agent.RewriteQuery
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return ask(ctx, assistant, out, opts, strings.Join(args, " "))
			}
			if opts.thread == "" {
				opts.thread = uuid.NewString()
			}
			return repl(ctx, assistant, cmd.InOrStdin(), out, opts)
		},
	}
	cmd.Flags().StringVar(&opts.thread, "thread", "", "conversation thread id (a new thread when empty)")
	cmd.Flags().BoolVar(&opts.rewrite, "rewrite", false, "rewrite the question before answering")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print agent steps as they happen")
	return cmd
}

func repl(ctx context.Context, r graph.Runner, in io.Reader, out io.Writer, opts askOptions) error {
	fmt.Fprintf(out, "Thread %s. Empty line or Ctrl-D to quit.\n", opts.thread)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			return nil
		}
		if err := ask(ctx, r, out, opts, q); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// a failed turn leaves the session usable
			logx.Warn().Err(err).Str("thread_id", opts.thread).Msg("Turn failed")
		}
	}
}

func ask(ctx context.Context, r graph.Runner, out io.Writer, opts askOptions, question string) error {
	in := model.QueryInput{ThreadID: opts.thread, Question: question, RewriteQuery: opts.rewrite}

	var final *model.RunState
	for ev := range r.Stream(ctx, in) {
		switch ev.Kind {
		case model.EventStep:
			if opts.stream {
				fmt.Fprintf(out, "· %s/%s (step %d)\n", ev.Agent, ev.Node, ev.Step)
			}
		case model.EventToolCall:
			if opts.stream {
				for _, tc := range ev.ToolCalls {
					fmt.Fprintf(out, "  → %s %s\n", tc.Function.Name, tc.Function.Arguments)
				}
			}
		case model.EventToolOutput:
			if opts.stream {
				for _, o := range ev.ToolOutputs {
					fmt.Fprintf(out, "  ← %s: %s\n", o.ToolName, o.Output)
				}
			}
		case model.EventAnswer:
			fmt.Fprintln(out, ev.Content)
		case model.EventError:
			if ev.Content != "" {
				fmt.Fprintln(out, ev.Content)
			}
			if ev.Err == nil {
				return errors.New("turn failed")
			}
			return fmt.Errorf("turn failed (status %d): %w", errx.StatusOf(ev.Err), ev.Err)
		case model.EventComplete:
			final = ev.Final
		}
	}
	if final == nil {
		return errors.New("stream ended without an answer")
	}

	for _, q := range final.SQLQueries {
		fmt.Fprintf(out, "\n```sql\n%s\n```\n", q.Content)
	}
	if final.Visualization != nil {
		b, err := json.MarshalIndent(final.Visualization, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", b)
	}
	return nil
}

func newClearCmd() *cobra.Command {
	var thread string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every checkpoint of a conversation thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			assistant, err := a.assistant(ctx)
			if err != nil {
				return err
			}
			if err := assistant.ClearThread(ctx, thread); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared thread %s\n", thread)
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "conversation thread id")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newSetupCmd() *cobra.Command {
	var sqlExamples, chartExamples string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create checkpoint and example tables, optionally indexing examples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.repo != nil {
				if err := a.repo.Setup(ctx); err != nil {
					return fmt.Errorf("setup checkpoint storage: %w", err)
				}
				logx.Info().Str("backend", cfg.Checkpoint.Backend).Msg("Checkpoint tables ready")
			}

			if a.examples == nil {
				if sqlExamples != "" || chartExamples != "" {
					return errors.New("indexing examples requires VECTOR_ENABLED=true")
				}
				return nil
			}
			for _, r := range []*vectorstore.PGRetriever{a.sqlIndex, a.vizIndex} {
				if err := r.Setup(ctx, cfg.VectorStore.Dimensions); err != nil {
					return fmt.Errorf("setup example tables: %w", err)
				}
			}
			if sqlExamples != "" {
				var examples []model.SQLExample
				if err := readJSON(sqlExamples, &examples); err != nil {
					return err
				}
				if err := a.sqlIndex.Add(ctx, a.indexer, vectorstore.SQLDocuments(examples)); err != nil {
					return err
				}
			}
			if chartExamples != "" {
				var examples []vectorstore.ChartExample
				if err := readJSON(chartExamples, &examples); err != nil {
					return err
				}
				if err := a.vizIndex.Add(ctx, a.indexer, vectorstore.ChartDocuments(examples)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sqlExamples, "sql-examples", "", "JSON file of {question, query, dataset_names} to index")
	cmd.Flags().StringVar(&chartExamples, "chart-examples", "", "JSON file of {question, query_results, output} to index")
	return cmd
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
