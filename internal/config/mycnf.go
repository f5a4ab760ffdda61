package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// myCnfSettings are the connection options read from a MySQL defaults file.
// [client] wins; [mysql] only contributes a database name.
type myCnfSettings struct {
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
	TLSMode   string
	HasPort   bool
	HasDBName bool
}

// apply copies the file's values over v. The database name is only taken
// when the user did not configure one explicitly.
func (s myCnfSettings) apply(v *viper.Viper, databaseNameExplicit bool) {
	for key, value := range map[string]string{
		"database.host":     s.Host,
		"database.user":     s.User,
		"database.password": s.Password,
		"database.tls.mode": s.TLSMode,
	} {
		if value != "" {
			v.Set(key, value)
		}
	}
	if s.HasPort {
		v.Set("database.port", s.Port)
	}
	if s.HasDBName && !databaseNameExplicit {
		v.Set("database.database", s.Database)
	}
}

func parseMyCnfFile(path string) (myCnfSettings, error) {
	raw, err := readSource(path)
	if err != nil {
		return myCnfSettings{}, err
	}
	return parseMyCnf(raw)
}

func parseMyCnf(raw string) (myCnfSettings, error) {
	var settings myCnfSettings
	var section string

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "", line[0] == '#', line[0] == ';':
			continue
		case line[0] == '[' && line[len(line)-1] == ']':
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}

		key, value, ok := splitMyCnfOption(line)
		if !ok {
			return myCnfSettings{}, fmt.Errorf("invalid my.cnf syntax on line %d", lineno)
		}
		if err := settings.set(section, strings.ToLower(key), value); err != nil {
			return myCnfSettings{}, fmt.Errorf("invalid my.cnf %s on line %d: %w", key, lineno, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return myCnfSettings{}, err
	}
	return settings, nil
}

func (s *myCnfSettings) set(section, key, value string) error {
	if section == "mysql" {
		if key == "database" && !s.HasDBName {
			s.Database, s.HasDBName = value, true
		}
		return nil
	}
	if section != "client" {
		return nil
	}

	switch key {
	case "host":
		s.Host = value
	case "port":
		port, err := parsePort(value)
		if err != nil {
			return err
		}
		s.Port, s.HasPort = port, true
	case "user":
		s.User = value
	case "password":
		s.Password = value
	case "database":
		s.Database, s.HasDBName = value, true
	case "ssl-mode":
		mode, err := mapMyCnfSSLMode(value)
		if err != nil {
			return err
		}
		s.TLSMode = mode
	}
	return nil
}

// splitMyCnfOption accepts both "key = value" and "key value" forms.
func splitMyCnfOption(line string) (string, string, bool) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", "", false
		}
		key, value = fields[0], strings.Join(fields[1:], " ")
	}
	key = strings.TrimSpace(key)
	return key, unquote(strings.TrimSpace(value)), key != ""
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '\'' || first == '"') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

func parsePort(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty value")
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d is out of valid range (1-65535)", port)
	}
	return port, nil
}

func mapMyCnfSSLMode(value string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "":
		return "", nil
	case "DISABLED":
		return "off", nil
	case "REQUIRED", "PREFERRED":
		return "skip-verify", nil
	case "VERIFY_CA":
		return "verify-ca", nil
	case "VERIFY_IDENTITY":
		return "verify-full", nil
	default:
		return "", fmt.Errorf("unsupported ssl-mode %q", value)
	}
}
