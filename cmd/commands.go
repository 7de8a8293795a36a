/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/neuron/pkg/config"
	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/loader"
	"github.com/chazu/neuron/pkg/module"
)

func newResolveCmd() *cobra.Command {
	var (
		from  string
		fetch bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Print the module an identifier resolves to",
		Long: `Resolve an identifier the way the module manager would, printing the
full id, the selected version and the subgraph it lives in.

With --from the identifier is resolved as required by that module; --fetch
loads the module first so its alias and version maps apply.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}

			var env *module.Instance
			if from != "" {
				if fetch {
					env, err = rt.Loader.Load(cmd.Context(), rt.Manager, from)
				} else {
					env, err = rt.Manager.Instance(from, nil, false)
				}
				if err != nil {
					return fmt.Errorf("failed to load %s: %w", from, err)
				}
			}

			resolved, err := rt.Manager.Resolve(args[0], env)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "id:\t%s\n", resolved.ID.FullID())
			fmt.Fprintf(w, "version:\t%s\n", resolved.ID.Version)
			fmt.Fprintf(w, "graph:\t%s\n", resolved.Graph)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "full id of the requiring module")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "load the requiring module from the configured sources")
	return cmd
}

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the resolution graph",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "lint",
		Short: "Report dangling references and unreachable nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph()
			if err != nil {
				return err
			}

			violations, err := g.Lint()
			if err != nil {
				return err
			}

			failed := false
			for _, v := range violations {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", v.Severity, v.Path, v.Message)
				if v.Severity == graph.ViolationSeverityError {
					failed = true
				}
			}
			if failed {
				return graph.ErrInvalidGraph
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes, %d warnings\n", len(g.Nodes), len(violations))
			return nil
		},
	})

	var since string
	hashCmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the content hash of the resolution graph",
		Long: `Print the content hash of the resolution graph. With --since, also
report whether the graph changed since the given hash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph()
			if err != nil {
				return err
			}
			if since == "" {
				fmt.Fprintln(cmd.OutOrStdout(), g.Metadata.Hash)
				return nil
			}

			status := "unchanged"
			if g.HasChanged(since) {
				status = "changed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", g.Metadata.Hash, status)
			return nil
		},
	}
	hashCmd.Flags().StringVar(&since, "since", "", "previous graph hash to compare with")
	cmd.AddCommand(hashCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "order",
		Short: "Print nodes, each after the nodes that depend on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph()
			if err != nil {
				return err
			}
			if err := g.Validate(); err != nil {
				return err
			}

			dag, err := graph.BuildDAG(g)
			if err != nil {
				return err
			}
			if dag.HasCycles() {
				cycles, err := dag.Cycles()
				if err != nil {
					return err
				}
				for _, cycle := range cycles {
					fmt.Fprintf(cmd.OutOrStdout(), "cycle\t%s\n", strings.Join(cycle, ","))
				}
				return fmt.Errorf("graph has %d cycles", len(cycles))
			}

			order, err := dag.Order()
			if err != nil {
				return err
			}
			for _, id := range order {
				if id == graph.RootID {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, g.Nodes[id].Version)
			}
			return nil
		},
	})

	return cmd
}

func loadGraph() (*graph.Graph, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg.ResolutionGraph(), nil
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <id>...",
		Short: "Load packages from the configured sources",
		Long: `Fetch the packages (or modules) named by the arguments, together with
the packages their modules depend on, and print what each request defined.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}

			for _, id := range args {
				if err := rt.Manager.Use(id, func(any, error) {}); err != nil {
					return fmt.Errorf("failed to request %s: %w", id, err)
				}
			}
			flushErr := rt.Loader.Flush(cmd.Context())

			states := rt.Loader.States()
			keys := make([]string, 0)
			for key := range states.All() {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST\tSTATE\tSOURCE\tMODULES")
			for _, key := range keys {
				status, err := states.GetStatus(key)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key, status.State, status.Source, strings.Join(status.Modules, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if flushErr != nil {
				var fetchErr *loader.FetchError
				if errors.As(flushErr, &fetchErr) {
					setupLog.Error(fetchErr.Err, "source failed", "source", fetchErr.Source, "request", fetchErr.Request.Key())
				}
				return flushErr
			}
			return nil
		},
	}
}

func newURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <id>",
		Short: "Print the URLs a module is served from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}

			inst, err := rt.Manager.Instance(args[0], nil, false)
			if err != nil {
				return err
			}
			pkgURL, err := rt.URLs.PackageURL(inst)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "module:\t%s\n", rt.URLs.ModuleURL(inst.ID))
			fmt.Fprintf(w, "package:\t%s\n", pkgURL)
			return w.Flush()
		},
	}
}
