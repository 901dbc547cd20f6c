package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Herald/pkg/node"
	"github.com/wehubfusion/Herald/pkg/platform/graphapi"
	"github.com/wehubfusion/Herald/pkg/segment"
)

var renderCmd = &cobra.Command{
	Use:   "render <tree.yaml>",
	Short: "Render a tree and print its segments",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func runRender(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(rootFlags.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	tree, err := loadTree(args[0])
	if err != nil {
		return err
	}

	segs, err := graphapi.NewRenderer(logger).Render(cmd.Context(), tree)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if node.UsesPositionalKeys(tree) {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: tree uses positional keys; paths change when lists are reordered")
	}
	printSegments(out, segs)
	return nil
}

func loadTree(path string) (node.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return node.Node{}, fmt.Errorf("read tree: %w", err)
	}
	tree, err := node.DecodeYAML(data)
	if err != nil {
		return node.Node{}, fmt.Errorf("decode tree: %w", err)
	}
	return tree, nil
}

func printSegments(out io.Writer, segs []segment.Segment) {
	for _, s := range segs {
		fmt.Fprintln(out, formatSegment(s))
	}
	fmt.Fprintf(out, "%d segments\n", len(segs))
}

func formatSegment(s segment.Segment) string {
	switch s.Kind {
	case segment.KindText:
		return fmt.Sprintf("%-12s %-6s %q", s.Path, s.Kind, s.Text())
	case segment.KindBreak:
		return fmt.Sprintf("%-12s %s", s.Path, s.Kind)
	case segment.KindPause:
		if s.Wait == nil {
			return fmt.Sprintf("%-12s %-6s marker", s.Path, s.Kind)
		}
		return fmt.Sprintf("%-12s %-6s wait", s.Path, s.Kind)
	}
	return fmt.Sprintf("%-12s %-6s %+v", s.Path, s.Kind, s.Value)
}
