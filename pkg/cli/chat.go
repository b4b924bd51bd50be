package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/chat"
)

func NewChatCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the reading companion",
		Long: `Talk with the reading companion.

History files hold a JSON array of turns, oldest first:

  [{"role": "user", "content": "The fox is fast!"},
   {"role": "assistant", "content": "Wow, where is it running?"}]`,
	}

	cmd.AddCommand(newChatReplyCommand(root))
	cmd.AddCommand(newChatSummaryCommand(root))
	return cmd
}

func newChatReplyCommand(root *RootCommand) *cobra.Command {
	var historyPath string

	cmd := &cobra.Command{
		Use:     "reply <message>",
		Short:   "Get the companion's next line after the child's message",
		Example: `  picturebook chat reply "I like the fox" --history turns.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			history, err := loadHistory(cmd, historyPath)
			if err != nil {
				return err
			}
			reply, err := svc.Reply(cmd.Context(), args[0], history)
			if err != nil {
				return err
			}
			return printText(root.OutputOptions(), "reply", reply)
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", "", `History file ("-" for stdin)`)
	return cmd
}

func newChatSummaryCommand(root *RootCommand) *cobra.Command {
	var historyPath string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize a finished conversation for a parent or teacher",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.Service()
			if err != nil {
				return err
			}
			history, err := loadHistory(cmd, historyPath)
			if err != nil {
				return err
			}
			summary, err := svc.Summarize(cmd.Context(), history)
			if err != nil {
				return err
			}
			return printText(root.OutputOptions(), "summary", summary)
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", "-", `History file ("-" for stdin)`)
	return cmd
}

// loadHistory reads turns from path. An empty path means no history.
func loadHistory(cmd *cobra.Command, path string) ([]chat.Turn, error) {
	var r io.Reader
	switch path {
	case "":
		return nil, nil
	case "-":
		r = cmd.InOrStdin()
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, apperr.InvalidRequest("open history: %v", err)
		}
		defer f.Close()
		r = f
	}

	var turns []chat.Turn
	if err := json.NewDecoder(r).Decode(&turns); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, apperr.InvalidRequest("decode history: %v", err)
	}
	return turns, nil
}
