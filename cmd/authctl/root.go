package main

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for authctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authctl",
		Short: "Classdesk credential tooling",
		Long: `authctl generates and hashes passwords and issues or inspects
session tokens with the same rules as the API.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newPasswordCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}

// readSecretLine reads one line from r so secrets stay out of argv and shell history.
func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no input on stdin")
	}
	return line, nil
}
