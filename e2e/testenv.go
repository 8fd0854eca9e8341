package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/smtptest"
	"github.com/ptgott/relaymail/userconfig"
)

const (
	relayUsername = "myuser123"
	relayPassword = "mypassword123"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	// Passed to the relay
	relayOptions []smtptest.Option
	// Written to the config file. Credentials are filled in if left
	// empty.
	appConfig appConfigOptions
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer *smtptest.InProcessServer
	configPath string
}

// startTestEnvironment starts an in-process relay that requires STARTTLS
// and AUTH, and writes a config file pointing at it. Callers should defer
// a call to tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{}

	files := smtptest.GenerateTLSFiles(t)

	opts := append(
		[]smtptest.Option{smtptest.WithCredentials(relayUsername, relayPassword)},
		c.relayOptions...,
	)
	ts := smtptest.NewInProcessServer(files, opts...)
	if err := ts.Start(); err != nil {
		return te, fmt.Errorf("could not start the test relay: %w", err)
	}
	te.SMTPServer = ts

	ac := c.appConfig
	ac.RelayAddress = "smtp://" + ts.Address()
	ac.CACert = files.CertPath
	if ac.Username == "" {
		ac.Username = relayUsername
	}
	if ac.Password == "" {
		ac.Password = relayPassword
	}

	te.configPath = filepath.Join(t.TempDir(), "config.yaml")
	if err := createAppConfig(te.configPath, ac); err != nil {
		return te, err
	}

	return te, nil
}

// relayConfig reads the environment's config file the way the application
// does.
func (te *testEnvironment) relayConfig() (email.RelayConfig, error) {
	f, err := os.Open(te.configPath)
	if err != nil {
		return email.RelayConfig{}, err
	}
	defer f.Close()

	m, err := userconfig.Parse(f)
	if err != nil {
		return email.RelayConfig{}, err
	}

	c, err := m.CheckAndSetDefaults()
	if err != nil {
		return email.RelayConfig{}, err
	}
	return c.EmailSettings, nil
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}
}
