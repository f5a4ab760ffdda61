package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStdinSources(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		mycnf    string
		password string
		wantErr  []string
	}{
		{name: "none", dsn: "/tmp/dsn", password: "/tmp/password"},
		{name: "one", dsn: "@-", password: "/tmp/password"},
		{
			name:     "several",
			dsn:      "@-",
			mycnf:    " @- ",
			password: "@-",
			wantErr:  []string{"database.dsn_file", "database.mycnf_file", "database.password_file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("database.dsn_file", tt.dsn)
			v.Set("database.mycnf_file", tt.mycnf)
			v.Set("database.password_file", tt.password)

			err := checkStdinSources(v)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, key := range tt.wantErr {
				assert.Contains(t, err.Error(), key)
			}
		})
	}
}
