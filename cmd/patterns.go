package cmd

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/patterns"
	"github.com/dhcgn/mbox-reply-parser/runner"
)

func newPatternsCmd() *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the active quote header and signature patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patternsFile, err := cmd.Flags().GetString("patterns")
			if err != nil {
				return err
			}
			lib, err := runner.LoadLibrary(patternsFile)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asYAML {
				data, err := yaml.Marshal(patterns.File{
					QuoteHeaders: lib.Expressions(patterns.QuoteHeader),
					Signatures:   lib.Expressions(patterns.Signature),
				})
				if err != nil {
					return fmt.Errorf("encode patterns: %w", err)
				}
				_, err = w.Write(data)
				return err
			}

			for _, kind := range []patterns.Kind{patterns.QuoteHeader, patterns.Signature} {
				fmt.Fprintf(w, "%s (%d):\n", kind, lib.Len(kind))
				for _, expr := range lib.Expressions(kind) {
					fmt.Fprintf(w, "  %s\n", expr)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the patterns as a YAML pattern file")
	config.AddPatternsFlag(cmd)
	return cmd
}

func init() {
	rootCmd.AddCommand(newPatternsCmd())
}
