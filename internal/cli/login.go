package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fieldline/api/internal/replica"
)

var errNotLoggedIn = errors.New("not logged in: run `agent login <email>` or set FIELDLINE_TOKEN")

// NewLoginCommand creates the login command. The password comes from
// FIELDLINE_PASSWORD when set, otherwise from a stdin prompt.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "login <email>",
		Short:         "Sign in and store the session in the local replica",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("FIELDLINE_PASSWORD")
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			return runLogin(cmd, opts, args[0], password)
		},
	}
}

func runLogin(cmd *cobra.Command, opts *RootOptions, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Post(opts.Server+"/api/auth/signin", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("invalid email or password")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var session struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
		UserName     string `json:"userName"`
		OrgID        string `json:"orgId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}

	r, err := openReplica(opts)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	if err := r.SetState(ctx, replica.StateAccessToken, session.Token); err != nil {
		return err
	}
	if err := r.SetState(ctx, replica.StateRefreshToken, session.RefreshToken); err != nil {
		return err
	}
	if err := r.SetState(ctx, replica.StateServerURL, opts.Server); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (org %s)\n", session.UserName, session.OrgID)
	return nil
}
