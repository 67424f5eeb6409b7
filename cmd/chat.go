package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coderag/internal/llm"
	"coderag/internal/types"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions about an indexed collection in a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		collection, err := collectionFor("")
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		col, err := a.Index.GetCollection(ctx, collection)
		if err != nil {
			return fmt.Errorf("%w\nRun 'coderag index <path>' first to build the index", err)
		}

		out := cmd.OutOrStdout()
		s := &chatSession{out: out, limit: cfg.LLM.HistoryMessages}
		scanner := bufio.NewScanner(cmd.InOrStdin())
		fmt.Fprintf(out, "coderag chat on %q, %d chunks (type /help for commands, /exit to quit)\n\n", col.Name, col.Chunks)

		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if handled, quit := s.command(line); quit {
				return nil
			} else if handled {
				continue
			}

			fmt.Fprintln(out)
			reply, matches, err := answer(ctx, a, out, collection, line, types.Filter{}, s.history)
			if err != nil {
				log.Warn("chat turn failed", zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			fmt.Fprintln(out)
			s.record(line, reply, matches)
		}
		return scanner.Err()
	},
}

// chatSession holds the conversation state of one chat run.
type chatSession struct {
	out     io.Writer
	limit   int
	history []llm.Message
	sources types.QueryResult
}

// command runs a slash command. handled is false for ordinary questions.
func (s *chatSession) command(line string) (handled, quit bool) {
	if !strings.HasPrefix(line, "/") {
		return false, false
	}
	switch line {
	case "/exit", "/quit":
		fmt.Fprintln(s.out, "Goodbye.")
		return true, true
	case "/clear":
		s.history, s.sources = nil, nil
		fmt.Fprintln(s.out, "Conversation cleared.")
	case "/sources":
		if len(s.sources) == 0 {
			fmt.Fprintln(s.out, "No sources yet.")
		} else {
			printSources(s.out, s.sources)
		}
	case "/history":
		fmt.Fprintf(s.out, "%d messages kept (limit %d)\n", len(s.history), s.limit)
	case "/help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  /sources  - list the chunks behind the last answer")
		fmt.Fprintln(s.out, "  /history  - show how much conversation is kept")
		fmt.Fprintln(s.out, "  /clear    - clear conversation history")
		fmt.Fprintln(s.out, "  /exit     - quit chat")
	default:
		fmt.Fprintf(s.out, "Unknown command %s, try /help\n", line)
	}
	return true, false
}

func (s *chatSession) record(question, reply string, matches types.QueryResult) {
	s.sources = matches
	s.history = appendHistory(s.history, s.limit,
		llm.Message{Role: "user", Content: question},
		llm.Message{Role: "assistant", Content: reply})
}

// appendHistory adds msgs and keeps at most limit of the newest messages.
// A zero limit keeps nothing and a negative one keeps everything.
func appendHistory(history []llm.Message, limit int, msgs ...llm.Message) []llm.Message {
	if limit == 0 {
		return nil
	}
	history = append(history, msgs...)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func init() {
	f := chatCmd.Flags()
	addRetrievalFlags(f)
	rootCmd.AddCommand(chatCmd)
}
