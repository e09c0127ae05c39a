// Command contacts requests access to, and lists, contacts from the macOS
// address book, the Messages history, a CardDAV server or a Gmail account.
//
// Configuration is read from flags, CONTACTS_* environment variables and
// $HOME/.contacts.yaml or ./.contacts.yaml, in that order of precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spachava753/contactkit/browser"
	"github.com/spachava753/contactkit/contacts"
	"github.com/spachava753/contactkit/internal/i18n"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev" // set by the linker

// errReported marks a failure whose message was already printed.
var errReported = errors.New("reported")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

type app struct {
	v       *viper.Viper
	log     *logrus.Logger
	cfgFile string

	// openStore builds the configured store; tests replace it.
	openStore func() (contacts.Store, error)
	// openURL shows a settings page; tests replace it.
	openURL func(ctx context.Context, url string) error
}

func newApp() *app {
	a := &app{v: viper.New(), log: logrus.New()}
	a.log.SetOutput(os.Stderr)
	a.openStore = a.configuredStore
	a.openURL = browser.OpenURL

	a.v.SetDefault("store", storeAddressBook)
	a.v.SetDefault("log_level", "warn")
	a.v.SetDefault("gmail.window_days", 365)
	a.v.SetDefault("gmail.max_messages", 500)
	a.v.SetDefault("addressbook.paths", []string{})
	a.v.SetDefault("messages.path", "")
	a.v.SetDefault("messages.resolve_names", false)
	return a
}

// newRootCmd builds a fresh command tree with its own configuration.
func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Read contacts from the system address book, Messages, CardDAV or Gmail.",
		Long: `contacts reads people from a contact store.

Run "contacts access" once to obtain permission, then "contacts list" to
print everyone or "contacts list <search>" to filter by name, organization,
email or phone number. Listing never asks for permission.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.log.SetOutput(cmd.ErrOrStderr())
			return a.loadConfig()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.contacts.yaml or ./.contacts.yaml)")
	flags.String("store", storeAddressBook, `contact store ("addressbook", "messages", "carddav", "gmail")`)
	flags.String("lang", "", `primary language, e.g. "en" or "zh-Hans" (default from LANG)`)
	flags.String("log-level", "warn", `log level ("debug", "info", "warn", "error")`)
	flags.Bool("json", false, "print JSON instead of text")
	flags.String("carddav-endpoint", "", "CardDAV server URL")
	flags.String("carddav-username", "", "CardDAV user name")
	flags.String("carddav-password", "", "CardDAV password")
	flags.String("carddav-addressbook", "", "CardDAV address book path or name (default first)")

	a.v.BindPFlag("store", flags.Lookup("store"))
	a.v.BindPFlag("language", flags.Lookup("lang"))
	a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	a.v.BindPFlag("json", flags.Lookup("json"))
	a.v.BindPFlag("carddav.endpoint", flags.Lookup("carddav-endpoint"))
	a.v.BindPFlag("carddav.username", flags.Lookup("carddav-username"))
	a.v.BindPFlag("carddav.password", flags.Lookup("carddav-password"))
	a.v.BindPFlag("carddav.address_book", flags.Lookup("carddav-addressbook"))

	cmd.AddCommand(a.accessCmd(), a.listCmd())
	return cmd
}

// loadConfig reads the config file, if any, and environment variables
// prefixed with CONTACTS_. A missing default config file is not an error.
func (a *app) loadConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".contacts")
	}

	a.v.SetEnvPrefix("CONTACTS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("contacts: reading config failed: %w", err)
		}
	}

	level, err := logrus.ParseLevel(a.v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("contacts: %w", err)
	}
	a.log.SetLevel(level)
	if err := i18n.LoadError(); err != nil {
		a.log.WithError(err).Warn("message catalogs incomplete")
	}
	a.log.WithField("config", a.v.ConfigFileUsed()).Debug("configuration loaded")
	return nil
}

// session is the per-invocation service and translator.
type session struct {
	svc *contacts.Service
	tr  *i18n.Translator
}

func (a *app) session() (session, error) {
	store, err := a.openStore()
	if err != nil {
		return session{}, err
	}
	svc := contacts.New(store, a.v.GetString("language"))
	return session{svc: svc, tr: i18n.New(svc.Language().String())}, nil
}

func (a *app) accessCmd() *cobra.Command {
	var openSettings bool
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Request permission to read contacts",
		Long: `Asks the store for permission to read contacts. The system prompt, if
any, is shown only the first time; later runs report the remembered decision.
With --open-settings a refusal opens the matching System Settings pane.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session()
			if err != nil {
				return err
			}

			granted, err := s.svc.RequestAccess(cmd.Context())
			a.log.WithFields(logrus.Fields{
				"store":   a.v.GetString("store"),
				"granted": granted,
			}).WithError(err).Info("access requested")

			if a.v.GetBool("json") {
				if werr := writeJSON(cmd.OutOrStdout(), newAccessOutput(granted, err)); werr != nil {
					return werr
				}
			} else {
				printAccess(cmd.OutOrStdout(), cmd.ErrOrStderr(), s.tr, granted, err)
			}
			if !granted {
				if openSettings {
					a.showSettings(cmd.Context())
				}
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&openSettings, "open-settings", false, "open System Settings when access is refused")
	return cmd
}

// showSettings opens the privacy pane that controls the configured store.
// Stores without one are skipped.
func (a *app) showSettings(ctx context.Context) {
	url := settingsURL(a.v.GetString("store"))
	if url == "" {
		a.log.WithField("store", a.v.GetString("store")).Debug("no settings page for store")
		return
	}
	if err := a.openURL(ctx, url); err != nil {
		a.log.WithError(err).Warn("opening settings failed")
	}
}

func (a *app) listCmd() *cobra.Command {
	var requestFirst bool
	cmd := &cobra.Command{
		Use:   "list [search]",
		Short: "List contacts, optionally filtered by a search text",
		Long: `Prints contacts ordered by name for the primary language. A search
text keeps contacts whose name, organization, email or phone number contains
it; an empty search lists everyone. Listing never asks for permission unless
--request-access is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			search := ""
			if len(args) == 1 {
				search = args[0]
			}

			s, err := a.session()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if requestFirst {
				if granted, err := s.svc.RequestAccess(ctx); !granted {
					printAccess(cmd.OutOrStdout(), cmd.ErrOrStderr(), s.tr, granted, err)
					return errReported
				}
			}

			records, err := s.svc.LoadContacts(ctx, search)
			a.log.WithFields(logrus.Fields{
				"store":  a.v.GetString("store"),
				"search": search,
				"count":  len(records),
			}).WithError(err).Info("contacts loaded")

			if a.v.GetBool("json") {
				if werr := writeJSON(cmd.OutOrStdout(), newListOutput(records, err)); werr != nil {
					return werr
				}
				if err != nil {
					return errReported
				}
				return nil
			}

			if err != nil {
				if contacts.IsUnauthorized(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), s.tr.T("access.denied"))
				} else {
					fmt.Fprintln(cmd.ErrOrStderr(), s.tr.T("list.failed", map[string]any{"Error": err}))
				}
				return errReported
			}
			printRecords(cmd.OutOrStdout(), s.tr, records, search)
			return nil
		},
	}
	cmd.Flags().BoolVar(&requestFirst, "request-access", false, "request access before listing")
	return cmd
}

func printAccess(out, errOut io.Writer, tr *i18n.Translator, granted bool, err error) {
	switch {
	case granted:
		fmt.Fprintln(out, tr.T("access.granted"))
	case contacts.CodeOf(err) == contacts.ErrorCodeRestricted:
		fmt.Fprintln(errOut, tr.T("access.restricted"))
	case contacts.IsUnauthorized(err):
		fmt.Fprintln(errOut, tr.T("access.denied"))
	default:
		fmt.Fprintln(errOut, tr.T("access.failed", map[string]any{"Error": err}))
	}
}
