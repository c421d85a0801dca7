package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// httpDoer is satisfied by *http.Client.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var errChecksumMismatch = errors.New("checksum mismatch")

// checksums maps release asset names to lower-case SHA-256 hex digests.
type checksums map[string]string

// parseChecksums reads `sha256sum` output. Lines that do not start with a
// 64-digit digest followed by a file name are ignored; a leading "*" on the
// name (binary mode) is dropped.
func parseChecksums(r io.Reader) (checksums, error) {
	sums := checksums{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || len(fields[0]) != hex.EncodedLen(sha256.Size) {
			continue
		}
		sums[strings.TrimPrefix(fields[len(fields)-1], "*")] = strings.ToLower(fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	return sums, nil
}

func fetchChecksums(ctx context.Context, client httpDoer, url string) (checksums, error) {
	body, err := httpGet(ctx, client, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return parseChecksums(body)
}

func httpGet(ctx context.Context, client httpDoer, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}

// downloadVerified streams url into a temporary file in dir while hashing it
// and keeps the file only when the digest equals want. The caller removes the
// returned file.
func downloadVerified(ctx context.Context, client httpDoer, url, dir, want string) (path string, err error) {
	body, err := httpGet(ctx, client, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(f, h), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != strings.ToLower(want) {
		return "", fmt.Errorf("%w: want %s, got %s", errChecksumMismatch, want, got)
	}
	return f.Name(), nil
}
