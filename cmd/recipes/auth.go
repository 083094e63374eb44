package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/recipes/internal/database"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Open a session with the API",
	Long: `Log in with a username and password. The password is taken from
--password, RECIPES_PASSWORD, or read from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		if err := current.client.Login(cmd.Context(), args[0], password); err != nil {
			return err
		}
		current.client.Wait()
		fmt.Printf("Logged in as %s\n", args[0])
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Close the session and forget cached data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.client.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup <username>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		if err := current.client.CreateAccount(cmd.Context(), args[0], password); err != nil {
			return err
		}
		fmt.Printf("Created account %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session and sync state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := current.client.RefreshStatus(cmd.Context())
		if err != nil {
			fmt.Printf("API unreachable: %v\n", err)
			status = current.client.Status()
		}
		switch {
		case status == nil:
			fmt.Println("Not logged in")
		case status.Write:
			fmt.Printf("Logged in as %s\n", status.Username)
		default:
			fmt.Printf("Logged in as %s (read-only)\n", status.Username)
		}

		snap := current.shopping().Snapshot()
		queued, err := current.shopping().Queued()
		if err != nil {
			return err
		}
		fmt.Printf("Shopping list: %s, %d upload(s) queued\n", snap.Sync, queued)

		version, err := database.SchemaVersion(current.db)
		if err != nil {
			return err
		}
		fmt.Printf("Cache: %s (schema %d)\n", current.dbPath, version)
		return nil
	},
}

func readPassword(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	if p := viper.GetString("password"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, signupCmd} {
		c.Flags().String("password", "", "password (prefer RECIPES_PASSWORD or stdin)")
	}
	rootCmd.AddCommand(loginCmd, logoutCmd, signupCmd, statusCmd)
}
