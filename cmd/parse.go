package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-reply-parser/config"
	"github.com/dhcgn/mbox-reply-parser/message"
	"github.com/dhcgn/mbox-reply-parser/model"
	"github.com/dhcgn/mbox-reply-parser/output"
	"github.com/dhcgn/mbox-reply-parser/reply"
	"github.com/dhcgn/mbox-reply-parser/runner"
)

const (
	showVisible   = "visible"
	showQuoted    = "quoted"
	showFragments = "fragments"
)

func newParseCmd() *cobra.Command {
	var (
		isMessage bool
		show      string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Parse a single email body and print its reply text",
		Long: `Parses one plain-text email body (or, with --message, a complete RFC 5322
message) read from a file or stdin and prints the visible reply, the quoted
text or every fragment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}

			switch show {
			case showVisible, showQuoted, showFragments:
			default:
				return fmt.Errorf("invalid --show: %s", show)
			}

			patternsFile, err := cmd.Flags().GetString("patterns")
			if err != nil {
				return err
			}
			lib, err := runner.LoadLibrary(patternsFile)
			if err != nil {
				return err
			}

			data, err := readInput(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			var msg model.Message
			body := string(data)
			if isMessage {
				if msg, err = message.Parse(data); err != nil {
					return err
				}
				if body, err = message.BodyText(data); err != nil {
					return err
				}
			}

			email := reply.NewParser(lib).Parse(body)
			return printEmail(cmd.OutOrStdout(), msg, email, show, strings.ToLower(format))
		},
	}

	cmd.Flags().BoolVarP(&isMessage, "message", "m", false, "Input is a complete RFC 5322 message rather than a bare body")
	cmd.Flags().StringVarP(&show, "show", "s", showVisible, "What to print: visible, quoted, fragments")
	cmd.Flags().StringVarP(&format, "format", "f", config.FormatText, "Output format: text, jsonl, yaml")
	config.AddPatternsFlag(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(newParseCmd())
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func printEmail(w io.Writer, msg model.Message, email *reply.Email, show, format string) error {
	if format != config.FormatText {
		enc, err := output.NewEncoder(format, w)
		if err != nil {
			return err
		}
		return enc.Encode(runner.BuildReply(msg, email, show == showFragments))
	}

	switch show {
	case showQuoted:
		_, err := fmt.Fprintln(w, strings.TrimRight(email.QuotedText(), "\n"))
		return err
	case showFragments:
		for i, f := range email.Fragments() {
			var flags []string
			if f.IsQuoted() {
				flags = append(flags, "quoted")
			}
			if f.IsSignature() {
				flags = append(flags, "signature")
			}
			if f.IsHidden() {
				flags = append(flags, "hidden")
			}
			label := fmt.Sprintf("--- fragment %d", i+1)
			if len(flags) > 0 {
				label += " [" + strings.Join(flags, ",") + "]"
			}
			if _, err := fmt.Fprintf(w, "%s\n%s\n", label, strings.TrimRight(f.Content(), "\n")); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(w, strings.TrimRight(email.VisibleText(), "\n"))
		return err
	}
}
