// Package prompt implements blocking console questions for the operator
// checkpoints of the reduction tools.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrAborted is returned when the operator quits at a prompt or input ends
var ErrAborted = errors.New("aborted by operator")

// Console asks questions on Out and reads single-line answers from In
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsole wraps the given streams, typically os.Stdin and os.Stdout
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Choose prints question with the allowed answers and re-prompts until one of
// them is given. Answering "q" aborts.
func (c *Console) Choose(question string, answers ...string) (string, error) {
	for {
		fmt.Fprintf(c.out, "%s [%s]: ", question, strings.Join(answers, "/"))

		line, err := c.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if err != nil && answer == "" {
			if errors.Is(err, io.EOF) {
				return "", ErrAborted
			}
			return "", fmt.Errorf("failed to read answer: %w", err)
		}

		if answer == "q" {
			return "", ErrAborted
		}
		for _, a := range answers {
			if answer == a {
				return a, nil
			}
		}
		fmt.Fprintln(c.out, "you have made an invalid choice, try again.")
	}
}

// YesNo asks a y/n question
func (c *Console) YesNo(question string) (bool, error) {
	answer, err := c.Choose(question, "y", "n")
	if err != nil {
		return false, err
	}
	return answer == "y", nil
}

// Printf writes informational text to the console output
func (c *Console) Printf(format string, v ...interface{}) {
	fmt.Fprintf(c.out, format, v...)
}
