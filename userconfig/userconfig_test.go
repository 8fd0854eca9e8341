package userconfig

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/ptgott/relaymail/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	// Field-level parsing of the email section is tested in the email
	// package, so here we make sure nothing fails unexpectedly.
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
		shouldBeEmpty bool
	}{
		{
			description:   "valid case",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf: `---
email:
    relayAddress: smtp://smtp.example.com:587
    username: MyUser123
    password: 123456-A_BCDE
    fromAddress: Infinit <no-reply@infinit.io>
    tls: starttls
    timeout: 10s
`,
		},
		{
			description:   "no email section",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
smtp:
    relayAddress: smtp://smtp.example.com:587
`,
		},
		{
			description:   "invalid relay address",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
email:
    relayAddress: https://smtp.example.com:587
`,
		},
		{
			description:   "not yaml",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf:          `this is not yaml`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b := bytes.NewBuffer([]byte(tc.conf))
			m, err := Parse(b)

			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}

			if reflect.DeepEqual(*m, Meta{}) != tc.shouldBeEmpty {
				l := map[bool]string{
					true:  "to be",
					false: "not to be",
				}
				t.Errorf(
					"%v: expected the Meta %v empty, but got the opposite",
					tc.description,
					l[tc.shouldBeEmpty],
				)
			}
		})
	}
}

func TestEnvironmentCredentials(t *testing.T) {
	conf := `email:
    relayAddress: smtp.example.com:587
    username: fromfile
    password: fromfile
`

	testCases := []struct {
		description  string
		env          map[string]string
		wantUsername string
		wantPassword string
	}{
		{
			description:  "file only",
			wantUsername: "fromfile",
			wantPassword: "fromfile",
		},
		{
			description:  "password from the environment",
			env:          map[string]string{"RELAYMAIL_SMTP_PASSWORD": "fromenv"},
			wantUsername: "fromfile",
			wantPassword: "fromenv",
		},
		{
			description: "both from the environment",
			env: map[string]string{
				"RELAYMAIL_SMTP_USERNAME": "envuser",
				"RELAYMAIL_SMTP_PASSWORD": "fromenv",
			},
			wantUsername: "envuser",
			wantPassword: "fromenv",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			t.Setenv("RELAYMAIL_SMTP_USERNAME", "")
			t.Setenv("RELAYMAIL_SMTP_PASSWORD", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			m, err := Parse(bytes.NewBufferString(conf))
			require.NoError(t, err)

			c, err := m.CheckAndSetDefaults()
			require.NoError(t, err)
			assert.Equal(t, tc.wantUsername, c.EmailSettings.Username)
			assert.Equal(t, tc.wantPassword, c.EmailSettings.Password)
		})
	}
}

func TestCredentialsOnlyInEnvironment(t *testing.T) {
	t.Setenv("RELAYMAIL_SMTP_USERNAME", "envuser")
	t.Setenv("RELAYMAIL_SMTP_PASSWORD", "envpass")

	m, err := Parse(bytes.NewBufferString("email:\n    relayAddress: smtp.example.com:587\n"))
	require.NoError(t, err)

	c, err := m.CheckAndSetDefaults()
	require.NoError(t, err)
	assert.Equal(t, "envuser", c.EmailSettings.Username)
	assert.Equal(t, email.TLSModeStartTLS, c.EmailSettings.TLSMode)
	assert.Equal(t, email.DefaultSender, c.EmailSettings.FromAddress)
}

func TestCheckAndSetDefaultsMissingCredentials(t *testing.T) {
	t.Setenv("RELAYMAIL_SMTP_USERNAME", "")
	t.Setenv("RELAYMAIL_SMTP_PASSWORD", "")

	m, err := Parse(bytes.NewBufferString("email:\n    relayAddress: smtp.example.com:587\n"))
	require.NoError(t, err)

	_, err = m.CheckAndSetDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username and password")
}
