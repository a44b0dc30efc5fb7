package mailer

import "context"

// Message is one outbound email.
type Message struct {
	From     string
	To       string
	CC       []string
	Subject  string
	PlainRaw string
	HTMLRaw  string
}

// Mailer delivers email. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
