package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fnuworsu/rdgql/internal/graph"
	"github.com/fnuworsu/rdgql/pkg/query"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <fixture.yaml>",
		Short: "Load vertices and edges from a fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := loadFixture(s, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %s vertices and %s edges into %s\n",
				humanize.Comma(int64(len(f.Vertices))), humanize.Comma(int64(len(f.Edges))), s.Name())
			return nil
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write every vertex and edge as a fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := storage.Dump(s)
			if err != nil {
				return err
			}
			if output != "" {
				if err := f.WriteFile(output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s vertices and %s edges to %s\n",
					humanize.Comma(int64(f.Metadata.Vertices)), humanize.Comma(int64(f.Metadata.Edges)), output)
				return nil
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(f)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		fixture string
		profile bool
		params  map[string]string
	)
	cmd := &cobra.Command{
		Use:   "run <statement.yaml>",
		Short: "Execute a statement document and print its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, docParams, err := query.LoadDocument(args[0])
			if err != nil {
				return err
			}
			if profile {
				a.cfg.Execution.Profiling = true
			}
			e, err := a.engine(fixture)
			if err != nil {
				return err
			}
			defer e.Close()

			merged := make(map[string]any, len(docParams)+len(params))
			for k, v := range docParams {
				merged[k] = v
			}
			for k, v := range params {
				merged[k] = parseParam(v)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := e.Execute(ctx, q, merged)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printResult(out, res)
			if res.Plan != "" {
				fmt.Fprintf(out, "\n%s\n", res.Plan)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "Fixture to load before running")
	cmd.Flags().BoolVar(&profile, "profile", false, "Print the plan with step timings")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Statement parameter, name=value (repeatable)")
	return cmd
}

func newExplainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <statement.yaml>",
		Short: "Print the execution plan of a statement document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := query.LoadDocument(args[0])
			if err != nil {
				return err
			}
			e, err := a.engine("")
			if err != nil {
				return err
			}
			defer e.Close()

			plan, err := e.Explain(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			vertices, err := s.Count(graph.VertexClass)
			if err != nil {
				return err
			}
			edges, err := s.Count(graph.EdgeClass)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", s.Name())
			fmt.Fprintf(out, "Storage:  %s\n", a.cfg.Storage.Backend)
			fmt.Fprintf(out, "Vertices: %s\n", humanize.Comma(vertices))
			fmt.Fprintf(out, "Edges:    %s\n", humanize.Comma(edges))
			return nil
		},
	}
}
