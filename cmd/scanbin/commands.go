package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/erazemk/scanbin/internal/config"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/station"
	"github.com/erazemk/scanbin/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new database with an admin account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		username, _ := cmd.Flags().GetString("user")

		password, err := initDatabase(cmd.Context(), cfg.DB, username)
		if err != nil {
			return err
		}
		printInitResult(cfg.DB, username, password)
		return nil
	},
}

var stationCmd = &cobra.Command{
	Use:   "station",
	Short: "Scan from this terminal",
	Long: `Scan from this terminal. A barcode scanner in keyboard mode types one
code per line. Type :c to cancel and :q to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Keep the terminal for the operator; logs go to stderr and the log file.
		closeLog, err := setupLogger(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		username, _ := cmd.Flags().GetString("user")
		if username == "" {
			return errors.New("--user is required")
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		user, err := store.GetUserByUsername(cmd.Context(), a.db, username)
		if err != nil {
			return err
		}
		password, err := readPassword(fmt.Sprintf("Password for %s: ", username))
		if err != nil {
			return err
		}
		if user == nil || user.DeletedAt != nil ||
			bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return errors.New("invalid credentials")
		}

		actor := model.UserActor(user.ID, user.Username)
		return station.New(a.scans, actor, os.Stdin, os.Stdout, nil).Run(cmd.Context())
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		role, _ := cmd.Flags().GetString("role")

		database, err := openDatabase(cfg.DB)
		if err != nil {
			return err
		}
		defer database.Close()

		password, err := readPassword(fmt.Sprintf("Password for %s: ", args[0]))
		if err != nil {
			return err
		}
		user, err := createUser(cmd.Context(), database, args[0], password, role)
		if err != nil {
			return err
		}
		fmt.Printf("User %s created with role %s\n", user.Username, user.Role)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg.DB)
		if err != nil {
			return err
		}
		defer database.Close()

		users, err := store.ListUsers(cmd.Context(), database)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tCREATED")
		for _, u := range users {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.CreatedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg.DB)
		if err != nil {
			return err
		}
		defer database.Close()

		user, err := store.GetUserByUsername(cmd.Context(), database, args[0])
		if err != nil {
			return err
		}
		if user == nil || user.DeletedAt != nil {
			return fmt.Errorf("user %s not found", args[0])
		}
		if err := store.DeleteUser(cmd.Context(), database, user.ID); err != nil {
			return err
		}
		fmt.Printf("User %s removed\n", user.Username)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Init(configPath, config.Default()); err != nil {
			return err
		}
		fmt.Printf("Configuration initialized at %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return config.Write(os.Stdout, cfg)
	},
}

func init() {
	initCmd.Flags().StringP("user", "u", "admin", "admin username")
	stationCmd.Flags().StringP("user", "u", "", "user to scan as")
	userAddCmd.Flags().StringP("role", "r", model.RoleUser, "role: admin, manager or user")

	userCmd.AddCommand(userAddCmd, userListCmd, userRemoveCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
}

// readPassword prompts on stderr. On a terminal the input is not echoed;
// otherwise one line is read without buffering past it, so the rest of
// stdin stays available to the station.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := readLine(os.Stdin)
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return line, nil
}

// readLine reads up to a newline one byte at a time.
func readLine(r io.Reader) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimRight(b.String(), "\r"), nil
			}
			b.WriteByte(buf[0])
		}
		if err != nil {
			return b.String(), err
		}
	}
}
