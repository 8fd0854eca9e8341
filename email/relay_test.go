package email_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/smtptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	relayUser = "relayuser"
	relayPass = "relaypass"
)

// startRelay runs an in-process relay for the duration of the test and
// returns it with a RelayConfig that trusts its certificate.
func startRelay(t *testing.T, opts ...smtptest.Option) (*smtptest.InProcessServer, email.RelayConfig) {
	t.Helper()

	files := smtptest.GenerateTLSFiles(t)

	opts = append([]smtptest.Option{smtptest.WithCredentials(relayUser, relayPass)}, opts...)
	srv := smtptest.NewInProcessServer(files, opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)

	rc := email.RelayConfig{
		Host:       smtptest.Host,
		Port:       srv.Port(),
		Username:   relayUser,
		Password:   relayPass,
		CACertPath: files.CertPath,
		Timeout:    5 * time.Second,
	}
	rc, err := rc.CheckAndSetDefaults()
	require.NoError(t, err)

	return srv, rc
}

func TestSendThroughRelay(t *testing.T) {
	srv, rc := startRelay(t)
	n := email.NewNotifier(rc)

	epoch := time.Now().UnixNano()
	err := n.Send(context.Background(), email.Request{
		To:      "Jérôme <jerome@example.com>",
		Subject: "Jérôme wants to share a file through Infinit!",
		Body:    "Dear user,\n\nJérôme wants to share résumé.pdf.",
	})
	require.NoError(t, err)

	envs := srv.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "no-reply@infinit.io", envs[0].From)
	assert.Equal(t, []string{"jerome@example.com"}, envs[0].To)

	payloads, err := srv.RetrieveEmails(epoch)
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	p, err := smtptest.ParseMessage(payloads[0])
	require.NoError(t, err)

	subject, err := email.DecodeHeader(p.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Jérôme wants to share a file through Infinit!", subject)

	to, err := email.DecodeHeader(p.Header.Get("To"))
	require.NoError(t, err)
	assert.Equal(t, "Jérôme <jerome@example.com>", to)

	assert.Equal(t, "UTF-8", p.Charset())
	// The DATA writer terminates the last line
	assert.Equal(t, "Dear user,\r\n\r\nJérôme wants to share résumé.pdf.\r\n", string(p.Body))
}

func TestSendThroughRelayLatin1(t *testing.T) {
	srv, rc := startRelay(t)
	n := email.NewNotifier(rc)

	err := n.Send(context.Background(), email.Request{
		To:       "user@example.com",
		Subject:  "Grüße",
		Body:     "Grüße aus Köln",
		Encoding: "latin1",
	})
	require.NoError(t, err)

	payloads, err := srv.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	p, err := smtptest.ParseMessage(payloads[0])
	require.NoError(t, err)

	r, err := email.CharsetReader(p.Charset(), strings.NewReader(string(p.Body)))
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Grüße aus Köln\r\n", string(body))
}

func TestRelayFailures(t *testing.T) {
	testCases := []struct {
		description string
		relayOpts   []smtptest.Option
		modify      func(rc *email.RelayConfig)
		to          string
		wantErr     error
	}{
		{
			description: "wrong password",
			modify:      func(rc *email.RelayConfig) { rc.Password = "wrong" },
			to:          "user@example.com",
			wantErr:     email.ErrAuthentication,
		},
		{
			description: "relay doesn't offer STARTTLS",
			relayOpts:   []smtptest.Option{smtptest.WithoutTLS()},
			to:          "user@example.com",
			wantErr:     email.ErrConnection,
		},
		{
			description: "no CA bundle for a self-signed relay",
			modify:      func(rc *email.RelayConfig) { rc.CACertPath = "" },
			to:          "user@example.com",
			wantErr:     email.ErrConnection,
		},
		{
			description: "CA bundle from another root",
			modify: func(rc *email.RelayConfig) {
				rc.CACertPath = smtptest.GenerateTLSFiles(t).CertPath
			},
			to:      "user@example.com",
			wantErr: email.ErrConnection,
		},
		{
			description: "recipient rejected",
			relayOpts:   []smtptest.Option{smtptest.WithRejectedRecipient("nobody@example.com")},
			to:          "nobody@example.com",
			wantErr:     email.ErrSubmission,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			srv, rc := startRelay(t, tc.relayOpts...)
			if tc.modify != nil {
				tc.modify(&rc)
			}
			n := email.NewNotifier(rc)

			err := n.Send(context.Background(), email.Request{
				To:      tc.to,
				Subject: "subject",
				Body:    "body",
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "unexpected error: %v", err)
			assert.Empty(t, srv.Envelopes())
		})
	}
}

func TestAuthenticationFailureCarriesReplyCode(t *testing.T) {
	_, rc := startRelay(t)
	rc.Password = "wrong"

	err := email.NewNotifier(rc).Send(context.Background(), email.Request{
		To:      "user@example.com",
		Subject: "subject",
		Body:    "body",
	})
	require.Error(t, err)

	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "unexpected error: %v", err)
	assert.Equal(t, 535, smtpErr.Code)
}

func TestPlaintextRelay(t *testing.T) {
	srv, rc := startRelay(t, smtptest.WithoutTLS(), smtptest.WithInsecureAuth())
	rc.TLSMode = email.TLSModeNone

	err := email.NewNotifier(rc).Send(context.Background(), email.Request{
		To:      "user@example.com",
		Subject: "subject",
		Body:    "body",
	})
	require.NoError(t, err)
	assert.Len(t, srv.Envelopes(), 1)
}

func TestRelayUnreachable(t *testing.T) {
	srv, rc := startRelay(t)
	// Nothing listens on the port once the relay has closed.
	srv.Close()

	err := email.NewNotifier(rc).Send(context.Background(), email.Request{
		To:      "user@example.com",
		Subject: "subject",
		Body:    "body",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, email.ErrConnection), "unexpected error: %v", err)
}
