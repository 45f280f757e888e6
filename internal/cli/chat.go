package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/copilotz"
	"github.com/aretw0/copilotz/pkg/domain"
)

// ChatOptions configures an interactive chat session.
type ChatOptions struct {
	ThreadID string
	// JSON switches to NDJSON: one request object per input line, one
	// reply object per output line.
	JSON bool
	// Render formats answers as markdown for a terminal.
	Render func(string) (string, error)
	// ShowFunctions prints each function call after the answer.
	ShowFunctions bool
	In            io.Reader
	Out           io.Writer
}

type jsonRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
	// Audio is a file path sent for transcription.
	Audio string `json:"audio,omitempty"`
}

type jsonReply struct {
	ThreadID  string                 `json:"thread_id"`
	Message   string                 `json:"message,omitempty"`
	Functions []*domain.FunctionCall `json:"functions,omitempty"`
	Task      *domain.Task           `json:"task,omitempty"`
	Turns     int                    `json:"turns,omitempty"`
	Tokens    int                    `json:"tokens,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

const chatHelp = `Commands:
  /help          show this help
  /task          show the active task
  /audio <file>  send an audio file
  /exit          leave the chat`

// RunChat reads messages until the input ends or /exit is typed.
func RunChat(ctx context.Context, c *copilotz.Copilot, opts ChatOptions) error {
	if opts.ThreadID == "" {
		return errors.New("thread id is required")
	}
	if opts.JSON {
		return runJSONChat(ctx, c, opts)
	}

	scanner := bufio.NewScanner(opts.In)
	for {
		fmt.Fprint(opts.Out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg := copilotz.Message{ThreadID: opts.ThreadID, Text: line}
		if strings.HasPrefix(line, "/") {
			cmd, arg, _ := strings.Cut(line, " ")
			switch cmd {
			case "/exit", "/quit":
				fmt.Fprintln(opts.Out, "Bye!")
				return nil
			case "/help":
				fmt.Fprintln(opts.Out, chatHelp)
				continue
			case "/task":
				printTask(ctx, c, opts)
				continue
			case "/audio":
				var err error
				msg, err = audioMessage(opts.ThreadID, strings.TrimSpace(arg))
				if err != nil {
					fmt.Fprintf(opts.Out, "Error: %v\n", err)
					continue
				}
			default:
				fmt.Fprintf(opts.Out, "Unknown command %s, type /help\n", cmd)
				continue
			}
		}

		res, err := c.Chat(ctx, msg)
		if err != nil {
			if isInterrupted(err) {
				return err
			}
			fmt.Fprintf(opts.Out, "Error: %v\n", err)
			continue
		}
		printResult(opts, res)
	}
}

func runJSONChat(ctx context.Context, c *copilotz.Copilot, opts ChatOptions) error {
	scanner := bufio.NewScanner(opts.In)
	enc := json.NewEncoder(opts.Out)
	enc.SetEscapeHTML(false)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req jsonRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if err := enc.Encode(jsonReply{ThreadID: opts.ThreadID, Error: "invalid request: " + err.Error()}); err != nil {
				return err
			}
			continue
		}
		if req.ThreadID == "" {
			req.ThreadID = opts.ThreadID
		}

		msg := copilotz.Message{ThreadID: req.ThreadID, Text: req.Text}
		if req.Audio != "" {
			audio, err := audioMessage(req.ThreadID, req.Audio)
			if err != nil {
				if err := enc.Encode(jsonReply{ThreadID: req.ThreadID, Error: err.Error()}); err != nil {
					return err
				}
				continue
			}
			msg.Audio, msg.AudioMIME = audio.Audio, audio.AudioMIME
		}

		reply := jsonReply{ThreadID: req.ThreadID}
		res, err := c.Chat(ctx, msg)
		var (
			runErr  *copilotz.RunError
			turnErr *copilotz.TurnError
		)
		switch {
		case err == nil:
		case isInterrupted(err):
			return err
		case errors.As(err, &runErr):
			reply.Error = err.Error()
			res = runErr.Partial
		case errors.As(err, &turnErr):
			reply.Error = err.Error()
			res = &copilotz.Result{Result: turnErr.Partial}
		default:
			reply.Error = err.Error()
		}
		if res != nil && res.Result != nil {
			reply.Message = res.Message
			reply.Functions = res.Functions
			reply.Task = res.Task
			reply.Turns = res.Turns
			reply.Tokens = res.Tokens
		}
		if err := enc.Encode(reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func audioMessage(threadID, path string) (copilotz.Message, error) {
	if path == "" {
		return copilotz.Message{}, errors.New("usage: /audio <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return copilotz.Message{}, fmt.Errorf("read audio: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return copilotz.Message{ThreadID: threadID, Audio: data, AudioMIME: mimeType}, nil
}

func printResult(opts ChatOptions, res *copilotz.Result) {
	text := res.Message
	if opts.Render != nil && text != "" {
		if rendered, err := opts.Render(text); err == nil {
			text = rendered
		}
	}
	if text != "" {
		fmt.Fprintln(opts.Out, strings.TrimRight(text, "\n"))
	}

	if !opts.ShowFunctions {
		return
	}
	for _, fn := range res.Functions {
		args, _ := json.Marshal(fn.Args)
		fmt.Fprintf(opts.Out, "  [%s] %s(%s)\n", fn.Status, fn.Name, args)
	}
}

func printTask(ctx context.Context, c *copilotz.Copilot, opts ChatOptions) {
	task, err := c.ActiveTask(ctx, opts.ThreadID)
	if err != nil {
		fmt.Fprintf(opts.Out, "Error: %v\n", err)
		return
	}
	if task == nil {
		fmt.Fprintln(opts.Out, "No active task.")
		return
	}
	fmt.Fprintf(opts.Out, "Task %s: workflow %s, step %s (%s)\n", task.ID, task.Workflow, task.CurrentStep, task.Status)
}
