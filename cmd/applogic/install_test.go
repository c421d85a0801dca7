package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractTarGz(t *testing.T) {
	archive := tarGz(t, map[string]string{
		"README.md":                         "docs",
		"mermaid-ascii_1.1.0/mermaid-ascii": "#!/bin/sh\n",
	})

	dir := t.TempDir()
	require.NoError(t, extractTarGz(bytes.NewReader(archive), dir, "mermaid-ascii"))
	data, err := os.ReadFile(filepath.Join(dir, "mermaid-ascii"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	err = extractTarGz(bytes.NewReader(archive), dir, "other")
	assert.ErrorContains(t, err, "not found")
	assert.Error(t, extractTarGz(bytes.NewReader([]byte("not gzip")), dir, "mermaid-ascii"))
}

func TestWriteSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	c := defaultConfig()
	c.ListenAddr = ":9999"
	c.Bundles = []string{"apps/"}
	require.NoError(t, writeSettings(path, c))

	loaded, err := loadConfig(path, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.ListenAddr)
	assert.Equal(t, []string{"apps/"}, loaded.Bundles)

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "path_limit")
}

func TestInstallMermaidASCII_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "mermaid-ascii")
	require.NoError(t, os.WriteFile(dest, []byte("bin"), 0o755))

	got, err := installMermaidASCII(context.Background(), http.DefaultClient, "http://127.0.0.1:0", dir)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
}

func TestInstallMermaidASCII_RejectsBadChecksum(t *testing.T) {
	asset, err := mermaidASCIIAssetName()
	if err != nil {
		t.Skip(err)
	}
	archive := tarGz(t, map[string]string{"mermaid-ascii": "tampered"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + asset:
			_, _ = w.Write(archive)
		case "/checksums.txt":
			_, _ = w.Write([]byte(hashA + "  " + asset + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err = installMermaidASCII(context.Background(), srv.Client(), srv.URL, dir)
	assert.ErrorContains(t, err, "checksum mismatch")
	_, statErr := os.Stat(filepath.Join(dir, "mermaid-ascii"))
	assert.True(t, os.IsNotExist(statErr))
}
