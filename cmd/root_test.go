package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrz6976/sucker/downloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNoArgumentPrintsUsage(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Equal(t, "Usage: sucker CSV_FILE\n", out)
}

func TestTooManyArguments(t *testing.T) {
	_, err := execute(t, "a.csv", "b.csv")
	assert.Error(t, err)
}

func TestRunAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	input := filepath.Join(dir, "products.csv")
	require.NoError(t, os.WriteFile(input, []byte("Id,Name,StockKeepingUnit,Image_URL__c\n"+
		"a1,Blue Widget, SK-1 ,"+srv.URL+"/img.png\n"+
		"a2,Lost Item,L-1,"+srv.URL+"/missing.png\n"), 0644))
	out := filepath.Join(dir, "out")
	ledger := filepath.Join(dir, "ledger.db")

	_, err := execute(t, input, "--out", out, "--quiet", "--ledger", ledger, "-vv")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(out, "blue_widget-SK-1.png"))
	require.NoError(t, err)
	assert.Equal(t, "image", string(got))
	assert.FileExists(t, filepath.Join(dir, "importable_products.csv"))

	status, err := execute(t, "status", "--ledger", ledger)
	require.NoError(t, err)
	assert.Regexp(t, `Downloaded\s+1\s+5 B`, status)
	assert.Regexp(t, `Failed\s+1\s+0 B`, status)
	assert.Regexp(t, `Total\s+2\s+5 B`, status)
}

func TestNoMappingFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("title,code,link\nLamp,L,"+srv.URL+"/l.jpg\n"), 0644))

	_, err := execute(t, input, "--out", filepath.Join(dir, "out"), "--quiet", "--no-mapping",
		"--name-col", "title", "--sku-col", "code", "--url-col", "link")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "out", "lamp-L.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "importable_in.csv"))
}

func TestMissingInputFails(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, filepath.Join(dir, "missing.csv"), "--out", filepath.Join(dir, "out"), "--quiet")
	assert.Error(t, err)
}

func TestBadUploadConfigFailsBeforeDownloading(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("Id,Name,StockKeepingUnit,Image_URL__c\n1,A,B,"+srv.URL+"/a.png\n"), 0644))
	cred := filepath.Join(dir, "r2.json")
	require.NoError(t, os.WriteFile(cred, []byte(`{"account_id": "acc"}`), 0644))

	_, err := execute(t, input, "--out", filepath.Join(dir, "out"), "--quiet", "--upload-config", cred)
	assert.Error(t, err)
	assert.Equal(t, 0, hits)
}

func TestConfigFromFlags(t *testing.T) {
	root := NewRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--limit", "2MB", "--chunk-size", "64KiB", "--workers", "3", "--no-mapping"}))

	cfg, err := configFromFlags(root)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), cfg.Options.RateLimit)
	assert.Equal(t, 64*1024, cfg.Options.ChunkSize)
	assert.Equal(t, 3, cfg.Options.Workers)
	assert.False(t, cfg.Options.Mapping)
	assert.Equal(t, downloader.DefaultSchema(), cfg.Options.Schema)
	assert.Equal(t, "out", cfg.Options.OutDir)
}

func TestConfigFromFlagsRejectsInvalid(t *testing.T) {
	for name, args := range map[string][]string{
		"zero workers": {"--workers", "0"},
		"bad limit":    {"--limit", "fast"},
		"zero chunk":   {"--chunk-size", "0"},
	} {
		t.Run(name, func(t *testing.T) {
			root := NewRootCmd()
			require.NoError(t, root.ParseFlags(args))
			_, err := configFromFlags(root)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SUCKER_WORKERS", "4")
	t.Setenv("SUCKER_OUT_DIR", "from-env")

	root := NewRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--out", "from-flag"}))
	require.NoError(t, applyEnv(root))

	cfg, err := configFromFlags(root)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Options.Workers)
	assert.Equal(t, "from-flag", cfg.Options.OutDir)
}

func TestApplyEnvRejectsInvalid(t *testing.T) {
	t.Setenv("SUCKER_WORKERS", "many")

	root := NewRootCmd()
	require.NoError(t, root.ParseFlags(nil))
	assert.Error(t, applyEnv(root))
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SUCKER_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SUCKER_TEST_DOTENV") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("SUCKER_TEST_DOTENV"))
}
