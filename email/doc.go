package email

// email is responsible for sending a single plain-text message to an
// authenticated SMTP relay, including connecting to the server, negotiating
// TLS and authentication, and building a MIME-formatted message whose headers
// and body are encoded in the caller's chosen charset. It is not designed to
// represent the user-facing content of an email (see the templates package),
// and it never retries or logs: a failed delivery comes back to the caller as
// a *DeliveryError naming the stage that failed.
