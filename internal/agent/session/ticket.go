package session

import (
	"context"
	"crypto/rand"
	"fmt"
)

// ticketAlphabet avoids ambiguous glyphs (0/O, 1/I/L) so agents can read
// ticket numbers back to users over any channel.
const ticketAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const maxTicketAttempts = 5

// TicketChecker reports whether a ticket number is already taken in an org.
type TicketChecker interface {
	TicketExists(ctx context.Context, orgID, ticketNumber string) (bool, error)
}

// NewTicketNumber generates a ticket like TCK-7XK2M9, unique within the org.
func NewTicketNumber(ctx context.Context, checker TicketChecker, orgID, prefix string, length int) (string, error) {
	if prefix == "" {
		prefix = "TCK"
	}
	if length <= 0 {
		length = 6
	}

	for attempt := 0; attempt < maxTicketAttempts; attempt++ {
		candidate, err := randomTicket(prefix, length)
		if err != nil {
			return "", err
		}
		exists, err := checker.TicketExists(ctx, orgID, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique ticket number after %d attempts", maxTicketAttempts)
}

func randomTicket(prefix string, length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = ticketAlphabet[int(buf[i])%len(ticketAlphabet)]
	}
	return prefix + "-" + string(buf), nil
}
