package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/offlinefirst/todosync/internal/client"
	"github.com/offlinefirst/todosync/internal/logging"
	"github.com/offlinefirst/todosync/internal/todo"
)

const configFileName = "config.yaml"

var verbose bool

func main() {
	cli := viper.New()
	cli.SetEnvPrefix("TODOSYNC")
	cli.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cli.AutomaticEnv()
	cli.SetDefault("server.url", "http://localhost:8080")
	cli.SetDefault("state.dir", defaultStateDir())

	rootCmd := &cobra.Command{
		Use:           "todosync",
		Short:         "Offline-first todo notes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(cli)
		},
	}
	rootCmd.PersistentFlags().String("server", cli.GetString("server.url"), "Server base URL")
	rootCmd.PersistentFlags().String("state-dir", cli.GetString("state.dir"), "Local state directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	if err := cli.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		panic(err)
	}
	if err := cli.BindPFlag("state.dir", rootCmd.PersistentFlags().Lookup("state-dir")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newSignupCmd(cli),
		newLoginCmd(cli),
		newListCmd(cli),
		newAddCmd(cli),
		newMarkCmd(cli, "done", "Mark a note as completed", true),
		newMarkCmd(cli, "undone", "Mark a note as pending", false),
		newEditCmd(cli),
		newRemoveCmd(cli),
		newSyncCmd(cli),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".todosync"
	}
	return filepath.Join(home, ".todosync")
}

func readConfigFile(cli *viper.Viper) error {
	path := filepath.Join(cli.GetString("state.dir"), configFileName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	cli.SetConfigFile(path)
	return cli.ReadInConfig()
}

func writeConfigFile(cli *viper.Viper) error {
	dir := cli.GetString("state.dir")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return cli.WriteConfigAs(filepath.Join(dir, configFileName))
}

func newAPI(cli *viper.Viper) *client.HTTPAPI {
	return &client.HTTPAPI{
		BaseURL: cli.GetString("server.url"),
		Token:   cli.GetString("api.token"),
	}
}

// newSession builds the sync client over the local state directory.
func newSession(cli *viper.Viper) (*client.Client, error) {
	store, err := client.NewLocalStore(afero.NewOsFs(), cli.GetString("state.dir"))
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewCLILogger(verbose)
	if err != nil {
		return nil, err
	}
	session, err := client.New(client.Config{
		API:      newAPI(cli),
		Store:    store,
		Notifier: client.WriterNotifier{Out: os.Stderr},
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Load(); err != nil {
		return nil, err
	}
	return session, nil
}

func newSignupCmd(cli *viper.Viper) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "signup <username>",
		Short: "Register an account and store the api token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := newAPI(cli).Signup(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			cli.Set("api.token", token)
			return writeConfigFile(cli)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newLoginCmd(cli *viper.Viper) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the api token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := newAPI(cli).Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			cli.Set("api.token", token)
			return writeConfigFile(cli)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newListCmd(cli *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List notes, refreshing from the server when reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession(cli)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Pull(cmd.Context()); err != nil && !errors.Is(err, client.ErrOffline) {
				return err
			}
			printNotes(session.Notes())
			return nil
		},
	}
}

func newAddCmd(cli *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession(cli)
			if err != nil {
				return err
			}
			defer session.Close()

			note, err := session.Add(cmd.Context(), strings.Join(args, " "))
			if err != nil && !errors.Is(err, client.ErrOffline) {
				return err
			}
			fmt.Printf("added note %s\n", note.ID)
			return nil
		},
	}
}

func newMarkCmd(cli *viper.Viper, use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := todo.ParseNoteID(args[0])
			if err != nil {
				return err
			}
			session, err := newSession(cli)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Mark(cmd.Context(), id, completed); err != nil && !errors.Is(err, client.ErrOffline) {
				return err
			}
			return nil
		},
	}
}

func newEditCmd(cli *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <text>",
		Short: "Replace a note's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := todo.ParseNoteID(args[0])
			if err != nil {
				return err
			}
			session, err := newSession(cli)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Edit(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil && !errors.Is(err, client.ErrOffline) {
				return err
			}
			return nil
		},
	}
}

func newRemoveCmd(cli *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := todo.ParseNoteID(args[0])
			if err != nil {
				return err
			}
			session, err := newSession(cli)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Delete(cmd.Context(), id); err != nil && !errors.Is(err, client.ErrOffline) {
				return err
			}
			return nil
		},
	}
}

func newSyncCmd(cli *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending events to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession(cli)
			if err != nil {
				return err
			}
			defer session.Close()
			return session.Push(cmd.Context())
		},
	}
}

func printNotes(notes []todo.Note) {
	writer := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, note := range notes {
		mark := " "
		if note.Completed() {
			mark = "x"
		}
		fmt.Fprintf(writer, "[%s]\t%s\t%s\n", mark, note.ID, note.Text)
	}
	writer.Flush()
}
