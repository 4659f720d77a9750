package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const maxAttempts = 3

// Runner walks the inventory, prompting for each parameter.
type Runner struct {
	store  *Store
	params []Param
	in     *bufio.Reader
	out    io.Writer
	// readSecret reads a line without echo. Nil falls back to plain reads.
	readSecret func() (string, error)
}

func NewRunner(store *Store, params []Param, in io.Reader, out io.Writer) *Runner {
	r := &Runner{
		store:  store,
		params: params,
		in:     bufio.NewReader(in),
		out:    out,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		r.readSecret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(r.out)
			return string(b), err
		}
	}
	return r
}

func (r *Runner) Run(ctx context.Context) error {
	var written, skipped int
	for i, p := range r.params {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "\n[%d/%d] %s\n", i+1, len(r.params), p.Label)

		ok, err := r.process(ctx, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Key, err)
		}
		if ok {
			written++
		} else {
			skipped++
		}
	}
	fmt.Fprintf(r.out, "\nDone: %d written, %d skipped.\n", written, skipped)
	return nil
}

// process returns true when a value was written.
func (r *Runner) process(ctx context.Context, p Param) (bool, error) {
	path := r.store.Path(p.Key)

	exists, err := r.store.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if exists {
		fmt.Fprintf(r.out, "  %s already exists. Overwrite? [y/N]: ", path)
		answer, err := r.readLine()
		if err != nil {
			return false, err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Fprintln(r.out, "  kept existing value")
			return false, nil
		}
	}

	value, err := r.promptAndValidate(p)
	if err != nil {
		return false, err
	}
	if value == "" {
		fmt.Fprintln(r.out, "  skipped (optional)")
		return false, nil
	}

	if err := r.store.Put(ctx, path, value, p.Secure, exists); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) promptAndValidate(p Param) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprintf(r.out, "  %s: ", p.Prompt)

		var (
			value string
			err   error
		)
		if p.Secure && r.readSecret != nil {
			value, err = r.readSecret()
		} else {
			value, err = r.readLine()
		}
		if err != nil {
			return "", err
		}
		value = strings.TrimSpace(value)

		if value == "" && p.Optional {
			return "", nil
		}
		if p.Validate == nil {
			return value, nil
		}
		if verr := p.Validate(value); verr != nil {
			fmt.Fprintf(r.out, "  invalid: %v\n", verr)
			continue
		}
		return value, nil
	}
	return "", fmt.Errorf("no valid value after %d attempts", maxAttempts)
}

func (r *Runner) readLine() (string, error) {
	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
