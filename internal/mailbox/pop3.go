// Package mailbox wraps the POP3 collaborator behind the narrow contract
// the intake pass needs: count, cheap header fetch, full fetch, delete.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/knadh/go-pop3"

	"github.com/gcode-mirror/foe-project/internal/config"
	"github.com/gcode-mirror/foe-project/internal/model"
)

// Mailbox is one authenticated POP3 session. Message ids are 1-based and
// remain stable for the lifetime of the session.
type Mailbox interface {
	// Count reports how many messages the server holds.
	Count() (int, error)
	// FetchEnvelope retrieves headers only (TOP with zero body lines).
	FetchEnvelope(id int) (*model.Envelope, error)
	// FetchMessage retrieves the full message including its body.
	FetchMessage(id int) (*model.MailMessage, error)
	// Delete marks a message deleted; the server drops it on Quit.
	Delete(id int) error
	// Quit commits deletions and closes the session.
	Quit() error
}

// Dialer opens mailbox sessions. One session is held per intake pass.
type Dialer interface {
	Dial(ctx context.Context) (Mailbox, error)
}

type pop3Dialer struct {
	client *pop3.Client
	user   string
	pass   string
}

// NewDialer builds a POP3 dialer from the mailbox endpoint settings.
func NewDialer(cfg config.PopConfig) Dialer {
	return &pop3Dialer{
		client: pop3.New(pop3.Opt{
			Host:       cfg.Host,
			Port:       cfg.Port,
			TLSEnabled: cfg.TLS,
		}),
		user: cfg.User,
		pass: cfg.Password,
	}
}

func (d *pop3Dialer) Dial(_ context.Context) (Mailbox, error) {
	conn, err := d.client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect: %w", err)
	}
	if err := conn.Auth(d.user, d.pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}
	return &pop3Mailbox{conn: conn}, nil
}

type pop3Mailbox struct {
	conn *pop3.Conn
}

func (m *pop3Mailbox) Count() (int, error) {
	count, _, err := m.conn.Stat()
	if err != nil {
		return 0, fmt.Errorf("pop3 stat: %w", err)
	}
	return count, nil
}

func (m *pop3Mailbox) FetchEnvelope(id int) (*model.Envelope, error) {
	msg, err := m.conn.Top(id, 0)
	if err != nil {
		return nil, fmt.Errorf("pop3 top %d: %w", id, err)
	}
	return &model.Envelope{
		Subject: msg.Header.Get("Subject"),
		From:    fromAddress(msg.Header.Get("From")),
	}, nil
}

func (m *pop3Mailbox) FetchMessage(id int) (*model.MailMessage, error) {
	msg, err := m.conn.Retr(id)
	if err != nil {
		return nil, fmt.Errorf("pop3 retr %d: %w", id, err)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("pop3 retr %d body: %w", id, err)
	}
	return &model.MailMessage{
		Envelope: model.Envelope{
			Subject: msg.Header.Get("Subject"),
			From:    fromAddress(msg.Header.Get("From")),
		},
		Body: string(body),
	}, nil
}

func (m *pop3Mailbox) Delete(id int) error {
	if err := m.conn.Dele(id); err != nil {
		return fmt.Errorf("pop3 dele %d: %w", id, err)
	}
	return nil
}

func (m *pop3Mailbox) Quit() error {
	return m.conn.Quit()
}

// fromAddress extracts the bare address from a From header. Display names
// ("Alice <alice@example.com>") are dropped; an unparsable header falls
// back to the trimmed raw value so the directory lookup still gets a key.
func fromAddress(header string) string {
	addr, err := mail.ParseAddress(header)
	if err != nil {
		return strings.TrimSpace(header)
	}
	return addr.Address
}
