package services

import (
	"bytes"
	context2 "context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/requiem-ai/gemprompt/config"
	"github.com/requiem-ai/gemprompt/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateEnvFile_PreservesUnrelatedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	original := "# gemprompt settings\nLOG_LEVEL=debug\nexport GOOGLE_API_KEY=old\n\nNOT A PAIR\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	err := updateEnvFile(path, map[string]string{
		"GOOGLE_API_KEY": "new key with spaces",
		"GEMINI_MODEL":   "gemini-2.5-flash",
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")

	require.Len(t, lines, 6)
	assert.Equal(t, "# gemprompt settings", lines[0])
	assert.Equal(t, "LOG_LEVEL=debug", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "export GOOGLE_API_KEY="), lines[2])
	assert.Equal(t, "", lines[3])
	assert.Equal(t, "NOT A PAIR", lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "GEMINI_MODEL="), lines[5])

	values, err := godotenv.Unmarshal(strings.Replace(string(raw), "NOT A PAIR\n", "", 1))
	require.NoError(t, err)
	assert.Equal(t, "new key with spaces", values["GOOGLE_API_KEY"])
	assert.Equal(t, "gemini-2.5-flash", values["GEMINI_MODEL"])
	assert.Equal(t, "debug", values["LOG_LEVEL"])
}

func TestUpdateEnvFile_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	require.NoError(t, updateEnvFile(path, map[string]string{
		"USER_ID":        "42",
		"GOOGLE_API_KEY": `quote " and spaces`,
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "42", values["USER_ID"])
	assert.Equal(t, `quote " and spaces`, values["GOOGLE_API_KEY"])
}

func TestParseEnvKey(t *testing.T) {
	tests := []struct {
		line, prefix, key string
	}{
		{"KEY=value", "", "KEY"},
		{"  KEY = value", "", "KEY"},
		{"export KEY=value", "export ", "KEY"},
		{"# KEY=value", "", ""},
		{"", "", ""},
		{"=value", "", ""},
		{"no equals", "", ""},
	}
	for _, tc := range tests {
		prefix, key := parseEnvKey(tc.line)
		assert.Equal(t, tc.prefix, prefix, "line %q", tc.line)
		assert.Equal(t, tc.key, key, "line %q", tc.line)
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "*****", maskSecret("short"))
	assert.Equal(t, "AIza****1234", maskSecret("AIzaSECR1234"))
}

func newSetup(t *testing.T, cfg *config.Config, input string) (*SetupService, *bytes.Buffer) {
	t.Helper()
	if cfg.EnvFile == "" {
		cfg.EnvFile = filepath.Join(t.TempDir(), ".env")
	}
	var out bytes.Buffer
	svc := NewSetupService(cfg, strings.NewReader(input), &out)
	svc.verifyUser = func(context2.Context, string, string, time.Duration) (int64, error) {
		t.Fatal("verifyUser must not be called")
		return 0, nil
	}
	svc.listModels = func(context2.Context, string) ([]string, error) {
		return []string{config.DefaultModel, "gemini-2.5-flash"}, nil
	}
	return svc, &out
}

func TestSetupService_SavesCredential(t *testing.T) {
	cfg := &config.Config{}
	svc, out := newSetup(t, cfg, "\n  \nmy-api-key\n\nn\n")

	require.NoError(t, svc.Start(context2.Background()))

	assert.Equal(t, 2, strings.Count(out.String(), "Value required."))
	assert.Contains(t, out.String(), "Configuration saved to "+cfg.EnvFile)

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "my-api-key", values["GOOGLE_API_KEY"])
	assert.Equal(t, config.DefaultModel, values["GEMINI_MODEL"])
	assert.NotContains(t, values, "TELEGRAM_SECRET")
}

func TestSetupService_KeepsCurrentValues(t *testing.T) {
	cfg := &config.Config{APIKey: "AIzaEXISTING1234", Model: "gemini-2.5-flash"}
	svc, out := newSetup(t, cfg, "\n\n\n")

	require.NoError(t, svc.Start(context2.Background()))
	assert.Contains(t, out.String(), "[AIza********1234]")
	assert.NotContains(t, out.String(), "AIzaEXISTING1234")

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "AIzaEXISTING1234", values["GOOGLE_API_KEY"])
	assert.Equal(t, "gemini-2.5-flash", values["GEMINI_MODEL"])
}

func TestSetupService_TelegramWithVerification(t *testing.T) {
	cfg := &config.Config{}
	svc, out := newSetup(t, cfg, "my-api-key\n\ny\n123:abc\nyes\n")

	var gotSecret, gotCode string
	svc.verifyUser = func(_ context2.Context, secret, code string, _ time.Duration) (int64, error) {
		gotSecret, gotCode = secret, code
		return 42, nil
	}

	require.NoError(t, svc.Start(context2.Background()))

	assert.Equal(t, "123:abc", gotSecret)
	assert.Len(t, gotCode, 6)
	assert.Contains(t, out.String(), gotCode)
	assert.Contains(t, out.String(), "Telegram user 42 authorized.")

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", values["TELEGRAM_SECRET"])
	assert.Equal(t, "42", values["USER_ID"])
}

func TestSetupService_TelegramAlreadyRestricted(t *testing.T) {
	cfg := &config.Config{AllowedUserID: 7}
	svc, _ := newSetup(t, cfg, "my-api-key\n\ny\n123:abc\n")

	require.NoError(t, svc.Start(context2.Background()))

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", values["TELEGRAM_SECRET"])
	assert.NotContains(t, values, "USER_ID")
}

func TestGenerateVerificationCode(t *testing.T) {
	code, err := generateVerificationCode()
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9', "unexpected rune %q", r)
	}
}

func TestSetupService_RejectsUnknownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models"), "path %s", r.URL.Path)
		assert.Equal(t, "my-api-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"models": [{"name": "models/gemini-2.0-flash"}, {"name": "models/gemini-2.5-pro"}]}`)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{EnvFile: filepath.Join(t.TempDir(), ".env")}
	var out bytes.Buffer
	svc := NewSetupService(cfg, strings.NewReader("my-api-key\ngemini-9-ultra\nGemini-2.5-Pro\nn\n"), &out,
		llm.WithBaseURL(srv.URL+"/"),
		llm.WithHTTPClient(srv.Client()),
	)

	require.NoError(t, svc.Start(context2.Background()))
	assert.Contains(t, out.String(), `Unknown model "gemini-9-ultra"`)
	assert.Contains(t, out.String(), "  gemini-2.5-pro\n")

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", values["GEMINI_MODEL"])
}

func TestSetupService_SavesModelUncheckedWhenListFails(t *testing.T) {
	cfg := &config.Config{}
	svc, out := newSetup(t, cfg, "my-api-key\ngemini-next\nn\n")
	svc.listModels = func(context2.Context, string) ([]string, error) {
		return nil, errors.New("network unreachable")
	}

	require.NoError(t, svc.Start(context2.Background()))
	assert.Contains(t, out.String(), "network unreachable")

	values, err := godotenv.Read(cfg.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "gemini-next", values["GEMINI_MODEL"])
}

func TestSetupService_CancelWhileWaitingForInput(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	cfg := &config.Config{EnvFile: filepath.Join(t.TempDir(), ".env")}
	svc := NewSetupService(cfg, pr, io.Discard)

	ctx, cancel := context2.WithCancel(context2.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	time.AfterFunc(50*time.Millisecond, cancel)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context2.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("setup still waiting for input after cancel")
	}

	_, err := os.Stat(cfg.EnvFile)
	assert.True(t, os.IsNotExist(err), "nothing is saved on cancel")
}
