package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/util"
)

const (
	envUser     = "NCBO_USER"
	envPassword = "NCBO_PASSWORD"
)

// passwordPrompt reads a password without echo. Replaced in tests.
var passwordPrompt = func(prompt string) (string, bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", true, err
	}
	return string(pw), true, nil
}

// loadCredentials takes the user from NCBO_USER, falling back to
// defaultUser, and the password from NCBO_PASSWORD or a terminal prompt.
func loadCredentials(getenv func(string) string, defaultUser string) (netconf.Credentials, error) {
	creds := netconf.Credentials{
		Username: getenv(envUser),
		Password: getenv(envPassword),
	}
	if creds.Username == "" {
		creds.Username = defaultUser
	}
	if creds.Username == "" {
		return creds, fmt.Errorf("%w: set %s (or 'ncbulk settings set username <name>')", util.ErrNoCredentials, envUser)
	}
	if creds.Password != "" {
		return creds, nil
	}

	pw, asked, err := passwordPrompt(fmt.Sprintf("Password for %s: ", creds.Username))
	if err != nil && err != io.EOF {
		return creds, fmt.Errorf("reading password: %w", err)
	}
	if !asked || pw == "" {
		return creds, fmt.Errorf("%w: set %s", util.ErrNoCredentials, envPassword)
	}
	creds.Password = pw
	return creds, nil
}
