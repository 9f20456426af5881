package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gluk-w/codelive/internal/auth"
	"github.com/gluk-w/codelive/internal/config"
	"github.com/gluk-w/codelive/internal/database"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("CODELIVE_JWT_SECRET", "cli-secret")

	tok, err := run(t, "token", "--email", "alice@example.com", "--user", "u1")
	require.NoError(t, err)

	id, err := auth.NewHMACValidator("cli-secret").Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "u1", Email: "alice@example.com"}, id)
}

func TestTokenCommandNeedsSecretAndEmail(t *testing.T) {
	t.Setenv("CODELIVE_JWT_SECRET", "")
	_, err := run(t, "token", "--email", "alice@example.com")
	assert.Error(t, err)

	t.Setenv("CODELIVE_JWT_SECRET", "cli-secret")
	_, err = run(t, "token")
	assert.Error(t, err)
}

func TestProjectCreateSeedsFiles(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("CODELIVE_DATABASE_PATH", filepath.Join(tmp, "db", "codelive.db"))

	src := filepath.Join(tmp, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.py"), []byte("print(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".env"), []byte("SECRET=1"), 0o644))

	id, err := run(t, "project", "create", "--name", "demo", "--from", src)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, database.Init(filepath.Join(tmp, "db", "codelive.db")))
	defer database.Close()
	tree, err := database.NewStore(database.DB).FileTree(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, tree.Names())
}

func TestProjectCreateRequiresName(t *testing.T) {
	t.Setenv("CODELIVE_DATABASE_PATH", filepath.Join(t.TempDir(), "codelive.db"))
	_, err := run(t, "project", "create")
	assert.Error(t, err)
}

func TestValidatorFromConfig(t *testing.T) {
	t.Setenv("CODELIVE_AUTH_DISABLED", "true")
	config.Load()
	v, err := validatorFromConfig()
	require.NoError(t, err)
	assert.IsType(t, auth.AllowAll{}, v)

	t.Setenv("CODELIVE_AUTH_DISABLED", "false")
	t.Setenv("CODELIVE_JWT_SECRET", "")
	config.Load()
	_, err = validatorFromConfig()
	assert.Error(t, err)
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t, []string{"localhost:5173", "editor.example.com"},
		originHosts([]string{"http://localhost:5173", "https://editor.example.com", "not a url"}))
	assert.Nil(t, originHosts([]string{"http://localhost:5173", "*"}))
}
