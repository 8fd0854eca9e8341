package smtptest

import (
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// Host is the name clients should verify the server's certificate against.
const Host = "127.0.0.1"

// TLSFiles locates a PEM key pair on disk. The certificate is a
// self-signed root for Host, so CertPath doubles as a client's CA bundle.
type TLSFiles struct {
	KeyPath  string
	CertPath string
}

// GenerateTLSFiles writes a fresh key pair for Host into its own temporary
// directory, which is removed after the test. Every call produces an
// unrelated root, so a second call gives a CA bundle the first
// certificate doesn't chain to.
func GenerateTLSFiles(t testing.TB) TLSFiles {
	t.Helper()

	d := t.TempDir()
	err := testcert.GenerateCert(
		Host,
		"",        // valid from now
		time.Hour, // outlives any test
		true,      // self-signed root
		2048,
		"", // RSA
		d+string(filepath.Separator),
	)
	if err != nil {
		t.Fatalf("can't generate TLS files for %v: %v", Host, err)
	}

	// testcert names the files after the host
	return TLSFiles{
		KeyPath:  filepath.Join(d, Host+".key.pem"),
		CertPath: filepath.Join(d, Host+".cert.pem"),
	}
}

// serverConfig is the TLS config an InProcessServer offers on STARTTLS.
func (f TLSFiles) serverConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(f.CertPath, f.KeyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
