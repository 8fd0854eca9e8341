package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/smtptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNoEmail(t *testing.T) {
	testCases := []struct {
		description   string
		args          []string
		stdin         string
		shouldBeError bool
		wantSubject   string
		wantBody      string
	}{
		{
			description: "template",
			args: []string{
				"-to", "user@example.com",
				"-template", "user_new_file",
				"-param", "inviter_mail=a@b.com",
				"-param", "file_name=report.pdf",
			},
			wantSubject: "a@b.com wants to share a file through Infinit!",
			wantBody:    "a@b.com wants to share report.pdf.",
		},
		{
			description: "raw subject and body",
			args:        []string{"-to", "user@example.com", "-subject", "Hi", "-body", "hello there"},
			wantSubject: "Hi",
			wantBody:    "hello there",
		},
		{
			description: "body from stdin",
			args:        []string{"-to", "user@example.com", "-subject", "Hi"},
			stdin:       "piped body",
			wantSubject: "Hi",
			wantBody:    "piped body",
		},
		{
			description:   "missing template parameter",
			args:          []string{"-to", "user@example.com", "-template", "user_new_file", "-param", "inviter_mail=a@b.com"},
			shouldBeError: true,
		},
		{
			description:   "unknown template",
			args:          []string{"-to", "user@example.com", "-template", "welcome"},
			shouldBeError: true,
		},
		{
			description:   "template combined with subject",
			args:          []string{"-to", "user@example.com", "-template", "invitation", "-subject", "Hi"},
			shouldBeError: true,
		},
		{
			description:   "no recipient",
			args:          []string{"-subject", "Hi", "-body", "hello"},
			shouldBeError: true,
		},
		{
			description:   "malformed parameter",
			args:          []string{"-to", "user@example.com", "-template", "invitation", "-param", "activation_code"},
			shouldBeError: true,
		},
		{
			description:   "unknown charset",
			args:          []string{"-to", "user@example.com", "-subject", "Hi", "-body", "b", "-encoding", "klingon"},
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			var out bytes.Buffer
			args := append([]string{"-noemail", "-config", "/nonexistent.yaml"}, tc.args...)
			err := run(context.Background(), args, strings.NewReader(tc.stdin), &out)
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if tc.shouldBeError {
				assert.Empty(t, out.String())
				return
			}
			assert.Contains(t, out.String(), "\r\nSubject: "+tc.wantSubject+"\r\n")
			assert.Contains(t, out.String(), tc.wantBody)
			assert.Contains(t, out.String(), "From: \"Infinit\" <no-reply@infinit.io>\r\n")
		})
	}
}

func writeConfig(t *testing.T, srv *smtptest.InProcessServer, caPath string, password string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	conf := fmt.Sprintf(`email:
    relayAddress: smtp://%v
    username: relayuser
    password: %v
    fromAddress: Infinit <no-reply@infinit.io>
    caCert: %v
    timeout: 5s
`, srv.Address(), password, caPath)
	require.NoError(t, os.WriteFile(p, []byte(conf), 0o600))
	return p
}

func TestRunSend(t *testing.T) {
	files := smtptest.GenerateTLSFiles(t)
	c := files.CertPath
	srv := smtptest.NewInProcessServer(files, smtptest.WithCredentials("relayuser", "relaypass"))
	require.NoError(t, srv.Start())
	defer srv.Close()

	t.Setenv("RELAYMAIL_SMTP_USERNAME", "")
	t.Setenv("RELAYMAIL_SMTP_PASSWORD", "")

	t.Run("delivered", func(t *testing.T) {
		cfg := writeConfig(t, srv, c, "relaypass")
		err := run(context.Background(), []string{
			"-config", cfg,
			"-to", "user@example.com",
			"-template", "invitation",
			"-param", "activation_code=XYZ-123",
		}, strings.NewReader(""), &bytes.Buffer{})
		require.NoError(t, err)

		envs := srv.Envelopes()
		require.Len(t, envs, 1)
		assert.Equal(t, []string{"user@example.com"}, envs[0].To)
		assert.Contains(t, envs[0].Data, "Subject: Invitation to test Infinit!\r\n")
	})

	t.Run("password from the environment", func(t *testing.T) {
		t.Setenv("RELAYMAIL_SMTP_PASSWORD", "relaypass")
		cfg := writeConfig(t, srv, c, "stale")
		err := run(context.Background(), []string{
			"-config", cfg,
			"-to", "user@example.com",
			"-subject", "Hi",
			"-body", "hello",
		}, strings.NewReader(""), &bytes.Buffer{})
		require.NoError(t, err)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		cfg := writeConfig(t, srv, c, "wrong")
		err := run(context.Background(), []string{
			"-config", cfg,
			"-to", "user@example.com",
			"-subject", "Hi",
			"-body", "hello",
		}, strings.NewReader(""), &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, email.ErrAuthentication), "unexpected error: %v", err)
	})

	t.Run("missing config file", func(t *testing.T) {
		err := run(context.Background(), []string{
			"-config", filepath.Join(t.TempDir(), "nope.yaml"),
			"-to", "user@example.com",
			"-subject", "Hi",
			"-body", "hello",
		}, strings.NewReader(""), &bytes.Buffer{})
		require.Error(t, err)
	})
}
