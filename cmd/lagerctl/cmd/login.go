package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username string
		password string
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readLine(cmd, "Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			if username == "" || password == "" {
				return errors.New("username and password are required")
			}

			res, err := a.api().Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			a.v.Set(keyToken, res.Token)
			fmt.Fprintf(a.out, "Signed in as %s (%s), token valid until %s\n",
				res.User.Username, res.User.Role, res.ExpiresAt.Local().Format("2006-01-02 15:04"))

			if !save {
				fmt.Fprintln(a.out, res.Token)
				return nil
			}
			return a.saveConfig()
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&save, "save", true, "write the token to the config file")
	return cmd
}

// saveConfig persists server and token so later commands pick them up.
func (a *app) saveConfig() error {
	path := a.v.ConfigFileUsed()
	if path == "" {
		path = defaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := a.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	// the file holds a bearer token
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Token saved to %s\n", path)
	return nil
}

func readLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
