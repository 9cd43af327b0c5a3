package confkit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	t.Setenv("CONF_DIR", "/opt/perpexec")
	tests := []struct {
		name, base, file, want string
	}{
		{name: "absolute", base: "/etc", file: "/var/risk.yaml", want: "/var/risk.yaml"},
		{name: "relative", base: "/etc/perpexec", file: "risk.yaml", want: "/etc/perpexec/risk.yaml"},
		{name: "env absolute", base: "/etc", file: "$CONF_DIR/risk.yaml", want: "/opt/perpexec/risk.yaml"},
		{name: "empty", base: "/etc", file: "  ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePath(tt.base, tt.file))
		})
	}
	assert.Equal(t, "etc", BaseDir("etc/trader.yaml"))
}

func TestSectionHydrate(t *testing.T) {
	var empty Section[string]
	require.NoError(t, empty.Hydrate("/base", func(string) (*string, error) {
		t.Fatal("loader must not run without a file")
		return nil, nil
	}))
	fallback := "default"
	assert.Equal(t, &fallback, empty.Or(&fallback))

	s := Section[string]{File: "risk.yaml"}
	v := "loaded"
	require.NoError(t, s.Hydrate("/base", func(p string) (*string, error) {
		assert.Equal(t, "/base/risk.yaml", p)
		return &v, nil
	}))
	assert.Equal(t, "/base/risk.yaml", s.File)
	assert.Equal(t, "loaded", *s.Or(&fallback))

	boom := errors.New("boom")
	bad := Section[string]{File: "x.yaml"}
	assert.ErrorIs(t, bad.Hydrate("/base", func(string) (*string, error) { return nil, boom }), boom)
	assert.Nil(t, bad.Value)
}

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o600))

	got, ok := FindUp(nested, "go.mod")
	require.True(t, ok)
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotResolved, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotResolved)

	_, ok = FindUp(nested, "definitely-not-here.marker")
	assert.False(t, ok)
}

func TestDotenvFiles(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	assert.Empty(t, dotenvFiles())

	t.Setenv("NO_DOTENV", "")
	t.Setenv("ENV_FILE", "/tmp/custom.env")
	assert.Equal(t, []string{"/tmp/custom.env"}, dotenvFiles())
}

type sample struct {
	Name    string
	Timeout string `json:",default=5s"`
}

func TestLoadFile(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Name: ${SAMPLE_NAME}\n"), 0o600))

	cfg, err := LoadFile[sample](path, true)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, "5s", cfg.Timeout)

	_, err = LoadFile[sample](filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.Error(t, err)
}
