package userconfig

import (
	"errors"
	"fmt"
	"io"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/ptgott/relaymail/email"

	yaml "gopkg.in/yaml.v2"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	EmailSettings email.RelayConfig `yaml:"email"`
}

// Secrets holds relay credentials that may be supplied through the
// environment instead of the config file. Non-empty values win over the
// file.
type Secrets struct {
	Username string `envconfig:"RELAYMAIL_SMTP_USERNAME"`
	Password string `envconfig:"RELAYMAIL_SMTP_PASSWORD"`
}

// CheckAndSetDefaults validates m and either returns a copy of m with
// default settings applied or returns an error due to an invalid
// configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	e, err := m.EmailSettings.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, fmt.Errorf("invalid \"email\" section: %v", err)
	}
	c.EmailSettings = e

	return c, nil
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing. Credentials from the
// environment are applied on top of the file, so call CheckAndSetDefaults
// on the result to validate it. The Reader r can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	var es email.RelayConfig = email.RelayConfig{}
	if m.EmailSettings == es {
		return &Meta{}, errors.New("must include an \"email\" section")
	}

	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return &Meta{}, fmt.Errorf("can't read relay credentials from the environment: %v", err)
	}

	if s.Username != "" {
		m.EmailSettings.Username = s.Username
		log.Debug().Msg("using the relay username from the environment")
	}
	if s.Password != "" {
		m.EmailSettings.Password = s.Password
		log.Debug().Msg("using the relay password from the environment")
	}

	return &m, nil
}
