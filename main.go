package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/templates"
	"github.com/ptgott/relaymail/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// An interrupt cancels the send in flight rather than killing the
	// process mid-session.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		ev := log.Error().Err(err)
		var de *email.DeliveryError
		if errors.As(err, &de) {
			ev = ev.Str("stage", string(de.Stage))
		}
		ev.Msg("could not send the notification")
		stop()
		os.Exit(1)
	}
}

// params collects repeated -param name=value flags.
type params map[string]string

func (p params) String() string {
	k := make([]string, 0, len(p))
	for n, v := range p {
		k = append(k, n+"="+v)
	}
	sort.Strings(k)
	return strings.Join(k, ",")
}

func (p params) Set(s string) error {
	n, v, ok := strings.Cut(s, "=")
	if !ok || n == "" {
		return fmt.Errorf("expecting name=value but got %q", s)
	}
	p[n] = v
	return nil
}

// run is the whole CLI minus process concerns, so tests can drive it.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("relaymail", flag.ContinueOnError)

	configPath := fs.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your relay configuration",
	)
	to := fs.String("to", "", "recipient address, e.g. \"Jane <jane@example.com>\"")
	from := fs.String("from", "", "sender address (default: fromAddress from the config)")
	encoding := fs.String("encoding", email.DefaultEncoding, "charset for the body and non-ASCII headers")
	tmplKey := fs.String(
		"template",
		"",
		"name of a stored template: "+strings.Join(templates.Keys(), ", "),
	)
	tmplParams := params{}
	fs.Var(tmplParams, "param", "template parameter as name=value (repeatable)")
	subject := fs.String("subject", "", "subject when not using -template")
	body := fs.String("body", "", "body when not using -template (default: read stdin)")
	noEmail := fs.Bool(
		"noemail",
		false,
		"print the message to stdout instead of sending it",
	)
	timeout := fs.Duration("timeout", 0, "override the relay timeout from the config")
	level := fs.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if *to == "" {
		return errors.New("must supply a recipient with -to")
	}

	r := email.Request{
		To:       *to,
		From:     *from,
		Encoding: *encoding,
	}

	if *tmplKey != "" {
		if *subject != "" || *body != "" {
			return errors.New("-subject and -body can't be combined with -template")
		}
		t, err := templates.Lookup(*tmplKey)
		if err != nil {
			return err
		}
		r.Subject, r.Body, err = t.Render(tmplParams)
		if err != nil {
			return err
		}
		log.Debug().Str("template", *tmplKey).Msg("rendered the template")
	} else {
		if len(tmplParams) > 0 {
			return errors.New("-param requires -template")
		}
		if *subject == "" {
			return errors.New("must supply either -template or -subject")
		}
		r.Subject = *subject
		r.Body = *body
		if r.Body == "" {
			b, err := io.ReadAll(stdin)
			if err != nil {
				return fmt.Errorf("can't read the body from stdin: %v", err)
			}
			r.Body = string(b)
		}
	}

	// Printing the message doesn't need a relay, so the config is only
	// read when sending.
	if *noEmail {
		m, err := email.BuildMessage(r)
		if err != nil {
			return err
		}
		_, err = m.WriteTo(stdout)
		return err
	}

	log.Info().
		Str("configPath", *configPath).
		Msg("reading the relay configuration")

	f, err := os.Open(*configPath)
	if err != nil {
		return fmt.Errorf("can't open the application config file: %v", err)
	}
	defer f.Close()

	config, err := userconfig.Parse(f)
	if err != nil {
		return fmt.Errorf("problem parsing your config: %v", err)
	}
	if *timeout > 0 {
		config.EmailSettings.Timeout = *timeout
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		return fmt.Errorf("problem validating your config: %v", err)
	}

	rc := checkedConfig.EmailSettings
	log.Debug().
		Str("relay", rc.Address()).
		Str("tls", string(rc.TLSMode)).
		Msg("successfully validated the config")

	start := time.Now()
	if err := email.NewNotifier(rc).Send(ctx, r); err != nil {
		return err
	}

	log.Info().
		Str("relay", rc.Address()).
		Dur("elapsed", time.Since(start)).
		Msg("the relay accepted the message")

	return nil
}
