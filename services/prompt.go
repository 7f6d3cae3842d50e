package services

import (
	"bufio"
	context2 "context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/requiem-ai/gemprompt/context"
)

const (
	promptLabel   = "Enter your prompt: "
	generatedHead = "Generated Text:"
)

// PromptService reads one prompt line, asks the responder, and prints the
// generated text. On failure only the responder's diagnostic is shown.
type PromptService struct {
	context.DefaultService

	in  io.Reader
	out io.Writer

	responder *ResponderService
}

const PROMPT_SVC = "prompt_svc"

func NewPromptService(in io.Reader, out io.Writer) *PromptService {
	return &PromptService{
		in:  in,
		out: out,
	}
}

func (svc PromptService) Id() string {
	return PROMPT_SVC
}

func (svc *PromptService) Start(ctx context2.Context) error {
	responder, err := responderFrom(&svc.DefaultService)
	if err != nil {
		return err
	}
	svc.responder = responder

	prompt, err := readLine(ctx, bufio.NewReader(svc.in), svc.out, promptLabel)
	if err != nil {
		return err
	}

	text, ok := svc.responder.Respond(ctx, prompt).Text()
	if !ok {
		return nil
	}

	fmt.Fprintln(svc.out, generatedHead)
	fmt.Fprintln(svc.out, text)
	return nil
}

// readLine prints label and returns one line without its line terminator.
// A final line without a newline is accepted; empty input yields "".
func readLine(ctx context2.Context, reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)

	text, err := readString(ctx, reader)
	if errors.Is(err, context2.Canceled) || errors.Is(err, context2.DeadlineExceeded) {
		return "", err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error reading input: %w", err)
	}

	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	return text, nil
}

type readResult struct {
	text string
	err  error
}

// readString reads up to the next newline, giving up when ctx is done.
// A read abandoned on cancellation keeps its goroutine until the reader
// returns, so the reader must not be used after ctx.Err() is returned.
func readString(ctx context2.Context, reader *bufio.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan readResult, 1)
	go func() {
		text, err := reader.ReadString('\n')
		done <- readResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
