// Package intent asks a language model which of a list of category
// descriptions a message belongs to.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

// NoCurrent marks a request without a current category.
const NoCurrent = -1

// DefaultAttempts bounds the model calls of one classification.
const DefaultAttempts = 3

var (
	// ErrNoCategories is returned when a request lists no categories.
	ErrNoCategories = errors.New("intent: no categories")
	// ErrUnclassified is returned when the model never answers with an index.
	ErrUnclassified = errors.New("intent: model did not answer with a category index")
)

const instructions = "Classify the message in the user input into one of the category descriptions provided. " +
	"Return the index of the category in the categories array (starting at 0). Answer with the number only.\n" +
	"- Wildcards can match anything;\n" +
	"- If no category matches, answer with the current category index (if available)."

var number = regexp.MustCompile(`\d+`)

// Request is one classification.
type Request struct {
	Input      string
	Categories []string
	// Current is the index of the category the conversation is in, or
	// NoCurrent.
	Current int
	// Instructions are appended to the user message.
	Instructions string
}

// Classifier maps messages to category indexes.
type Classifier struct {
	chat     ports.ChatExecutor
	attempts int
	logger   *slog.Logger
}

// Option configures the Classifier.
type Option func(*Classifier)

// WithAttempts sets how many model calls one classification may make.
func WithAttempts(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithLogger sets the classifier logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// New creates a classifier asking chat.
func New(chat ports.ChatExecutor, opts ...Option) *Classifier {
	c := &Classifier{
		chat:     chat,
		attempts: DefaultAttempts,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the index of the category req.Input belongs to. Answers
// past the last category are clamped to it. When no answer carries an index
// the current category is returned with ErrUnclassified.
func (c *Classifier) Classify(ctx context.Context, req Request) (int, error) {
	if len(req.Categories) == 0 {
		return NoCurrent, ErrNoCategories
	}
	if req.Current < 0 || req.Current >= len(req.Categories) {
		req.Current = NoCurrent
	}

	chatReq, err := prompt(req)
	if err != nil {
		return NoCurrent, err
	}
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.chat.Execute(ctx, chatReq)
		if err != nil {
			return req.Current, fmt.Errorf("intent: %w", err)
		}
		if idx, ok := parseIndex(resp.Answer); ok {
			return min(idx, len(req.Categories)-1), nil
		}
		c.logger.Debug("unparseable classification", "attempt", attempt, "answer", resp.Answer)
	}
	return req.Current, ErrUnclassified
}

func prompt(req Request) (ports.ChatRequest, error) {
	cats, err := json.Marshal(req.Categories)
	if err != nil {
		return ports.ChatRequest{}, fmt.Errorf("intent: %w", err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<message>\n%s\n</message>\n<categories>\n%s\n</categories>\n", req.Input, cats)
	if req.Current != NoCurrent {
		fmt.Fprintf(&sb, "<currentCategory>%d</currentCategory>\n", req.Current)
	}
	sb.WriteString(req.Instructions)

	return ports.ChatRequest{
		Instructions: instructions,
		Messages:     []domain.Message{{Role: domain.RoleUser, Content: sb.String()}},
	}, nil
}

func parseIndex(answer string) (int, bool) {
	m := number.FindString(answer)
	if m == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return idx, true
}
