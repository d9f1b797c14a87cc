package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammed-shakir/analytics-datacube/internal/auth"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/config"
	"github.com/mohammed-shakir/analytics-datacube/internal/input"
	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const doc = `{"parameters":{"polygon":"POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))","startDate":"2024-01-01","endDate":"2024-01-31"},"indicators":["NDVI"]}`

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInputPath(t *testing.T) {
	cases := []struct {
		env, flag, envPath string
		want               string
		wantErr            bool
	}{
		{"local", "", "from-env.json", "from-env.json", false},
		{"local", "flag.json", "from-env.json", "from-env.json", false},
		{"production", "flag.json", "from-env.json", "flag.json", false},
		{"validation", "", "from-env.json", "", true},
		{"staging", "flag.json", "", "", true},
	}
	for _, tc := range cases {
		got, err := inputPath(config.Config{Environment: tc.env, InputPath: tc.envPath}, tc.flag)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("%s/%q: got %q, %v", tc.env, tc.flag, got, err)
		}
	}
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"--input_path", "in.json", "--bearer_token", "tok", "--aws_s3_bucket_name", "b"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.inputPath != "in.json" || f.bearerToken != "tok" || f.bucket != "b" {
		t.Fatalf("got %+v", f)
	}
}

func TestGenerate_FailsBeforeAnyFetch(t *testing.T) {
	base := config.Config{
		Environment: "local",
		InputPath:   writeDoc(t),
		Imagery:     config.ImageryCfg{BaseURL: "http://127.0.0.1:1"},
		Zarr:        config.ZarrCfg{ChunkTime: 1, ChunkSpace: 8, Compressor: "none"},
	}

	t.Run("bucket without aws credentials", func(t *testing.T) {
		_, err := generate(context.Background(), base, flags{bucket: "b"}, discard)
		if !errors.Is(err, storage.ErrCredentialsMissing) || !strings.Contains(err.Error(), "Missing AWS credentials") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("token rejected by public key", func(t *testing.T) {
		cfg := base
		cfg.PublicKeyPEM = testPublicKey(t)
		_, err := generate(context.Background(), cfg, flags{bearerToken: "not-a-jwt"}, discard)
		if !errors.Is(err, auth.ErrUnauthorized) || err.Error() != "Not Authorized" {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("invalid document", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(bad, []byte(`{"parameters":{}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg := base
		cfg.InputPath = bad
		_, err := generate(context.Background(), cfg, flags{}, discard)
		if !errors.Is(err, input.ErrInvalid) {
			t.Fatalf("got %v want ErrInvalid", err)
		}
	})
}

func testPublicKey(t *testing.T) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}
