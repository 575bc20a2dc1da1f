package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/born-ml/sensim/internal/serialization"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the matrices of a file written by integrate --save",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := serialization.ReadFile(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		keys := make([]string, 0, len(archive.Metadata))
		for k := range archive.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "# %s: %s\n", k, archive.Metadata[k])
		}
		for _, name := range archive.Names() {
			d := archive.Tensors[name]
			fmt.Fprintf(w, "%s [%s]\n%v\n", name, d.Shape(), d)
		}
		return nil
	},
}
