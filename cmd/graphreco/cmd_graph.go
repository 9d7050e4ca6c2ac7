package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fgrzl/graphreco"
)

var traverseFlags struct {
	depth     int
	edgeTypes []string
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and edit the stored graph",
}

var graphGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a node and its outgoing edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openGraph(cmd.Context())
		if err != nil {
			return err
		}
		defer closeGraph(db)

		node, err := db.GetNode(args[0])
		if err != nil {
			return err
		}
		edges, err := db.OutEdges(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			Node  graphreco.Node   `json:"node"`
			Edges []graphreco.Edge `json:"edges"`
		}{node, edges})
	},
}

var graphRemoveNodeCmd = &cobra.Command{
	Use:   "remove-node <id>",
	Short: "Remove a node and every edge touching it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openGraph(cmd.Context())
		if err != nil {
			return err
		}
		defer closeGraph(db)

		if err := db.RemoveNode(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed node %s\n", args[0])
		return nil
	},
}

var graphRemoveEdgeCmd = &cobra.Command{
	Use:   "remove-edge <from> <to> <type>",
	Short: "Remove one edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openGraph(cmd.Context())
		if err != nil {
			return err
		}
		defer closeGraph(db)

		if err := db.RemoveEdge(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed edge %s -> %s (%s)\n", args[0], args[1], args[2])
		return nil
	},
}

var graphTraverseCmd = &cobra.Command{
	Use:   "traverse <id>",
	Short: "Print the nodes and edges reachable from a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openGraph(cmd.Context())
		if err != nil {
			return err
		}
		defer closeGraph(db)

		types := make(map[string]bool, len(traverseFlags.edgeTypes))
		for _, t := range traverseFlags.edgeTypes {
			types[t] = true
		}
		nodes, edges, err := graphreco.Traverse(db, args[0], types, traverseFlags.depth)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			Nodes []graphreco.Node `json:"nodes"`
			Edges []graphreco.Edge `json:"edges"`
		}{nodes, edges})
	},
}

func init() {
	f := graphTraverseCmd.Flags()
	f.IntVar(&traverseFlags.depth, "depth", 1, "Maximum number of hops")
	f.StringSliceVar(&traverseFlags.edgeTypes, "edge-type", nil, "Edge types to follow (default all)")

	graphCmd.AddCommand(graphGetCmd)
	graphCmd.AddCommand(graphRemoveNodeCmd)
	graphCmd.AddCommand(graphRemoveEdgeCmd)
	graphCmd.AddCommand(graphTraverseCmd)
}
