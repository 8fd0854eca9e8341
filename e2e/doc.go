package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. They read a config file from disk, render stored templates
// and deliver them through an in-process relay that enforces STARTTLS and
// AUTH. Dependencies also used by unit tests live in smtptest instead.
