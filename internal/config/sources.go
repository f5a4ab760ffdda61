package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// stdinSource marks a file setting that reads from standard input.
const stdinSource = "@-"

var fileSourceKeys = []string{"database.dsn_file", "database.mycnf_file", "database.password_file"}

// resolveDatabaseSources folds the DSN file, my.cnf file, password file and
// password prompt into the plain database keys, then settles the database
// name the rest of the program uses.
func resolveDatabaseSources(v *viper.Viper, databaseNameExplicit bool) error {
	if err := checkStdinSources(v); err != nil {
		return err
	}
	if err := fillFromFile(v, "database.dsn", "database.dsn_file"); err != nil {
		return fmt.Errorf("failed to read database DSN file: %w", err)
	}

	myCnfPath := strings.TrimSpace(v.GetString("database.mycnf_file"))
	myCnfLacksDatabase := false
	if myCnfPath != "" {
		settings, err := parseMyCnfFile(myCnfPath)
		if err != nil {
			return fmt.Errorf("failed to load database my.cnf file: %w", err)
		}
		settings.apply(v, databaseNameExplicit)
		myCnfLacksDatabase = !settings.HasDBName
	}

	if err := fillFromFile(v, "database.password", "database.password_file"); err != nil {
		return fmt.Errorf("failed to read database password file: %w", err)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		password, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", password)
	}

	// A DSN, or a my.cnf without a database, names the database itself; the
	// default placeholder must not shadow it.
	dsnGiven := strings.TrimSpace(v.GetString("database.dsn")) != ""
	isPlaceholder := strings.TrimSpace(v.GetString("database.database")) == defaultDatabaseName
	if !databaseNameExplicit && isPlaceholder && (dsnGiven || myCnfLacksDatabase) {
		v.Set("database.database", "")
	}

	name, _, err := resolveEffectiveDatabaseName(v.GetString("database.database"), v.GetString("database.dsn"), myCnfPath)
	if err != nil {
		return fmt.Errorf("failed to resolve effective database name: %w", err)
	}
	v.Set("database.database", name)
	return nil
}

// fillFromFile sets key from the file named by fileKey when key is empty.
func fillFromFile(v *viper.Viper, key, fileKey string) error {
	path := v.GetString(fileKey)
	if path == "" || v.GetString(key) != "" {
		return nil
	}
	secret, err := readSecret(path)
	if err != nil {
		return err
	}
	v.Set(key, secret)
	return nil
}

// checkStdinSources rejects configs where more than one file setting reads stdin.
func checkStdinSources(v *viper.Viper) error {
	var fromStdin []string
	for _, key := range fileSourceKeys {
		if strings.TrimSpace(v.GetString(key)) == stdinSource {
			fromStdin = append(fromStdin, key)
		}
	}
	if len(fromStdin) < 2 {
		return nil
	}
	return fmt.Errorf("multiple stdin-backed file settings use %s (%s); only one %s source is allowed",
		stdinSource, strings.Join(fromStdin, ", "), stdinSource)
}

// databaseNameExplicitlyConfigured reports whether database.database came
// from env, a flag or the config file rather than the default.
func databaseNameExplicitlyConfigured(v *viper.Viper) bool {
	if _, ok := os.LookupEnv(envPrefix + "_DATABASE_DATABASE"); ok {
		return true
	}
	if f := pflag.CommandLine.Lookup("database.database"); f != nil && f.Changed {
		return true
	}
	return v.InConfig("database.database")
}

// promptPassword reads a password from the terminal without echo. The prompt
// goes to stderr so stdout stays clean for results.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	defer fmt.Fprintln(os.Stderr)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// readSecret reads a file (or stdin for "@-") and trims surrounding whitespace.
func readSecret(path string) (string, error) {
	raw, err := readSource(path)
	return strings.TrimSpace(raw), err
}

func readSource(path string) (string, error) {
	if path == stdinSource {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
