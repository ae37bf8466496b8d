package application

import "context"

// Mailer is the send-or-fail email primitive. SMTP mechanics live
// behind it.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// DedupStore tracks processed event ids for a bounded window. Seen
// marks the key as a side effect; Forget undoes the mark when delivery
// fails so the retry is not suppressed.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}
