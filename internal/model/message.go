package model

// Envelope is the cheap header-only view of a mailbox message.
type Envelope struct {
	Subject string
	From    string
}

// MailMessage is a fully fetched message. It lives only for the duration
// of processing one message within a pass.
type MailMessage struct {
	Envelope
	Body string
}
