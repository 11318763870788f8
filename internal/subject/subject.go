// Package subject parses the command grammar clients embed in mail
// subject lines:
//
//	<KIND> <REQUEST_ID> by <USER_ID>
//
// e.g. "Register req-8f2 by Newbie" or "CATALOG req-001 by user-42".
package subject

import (
	"strings"

	"github.com/gcode-mirror/foe-project/internal/model"
)

// Command is the parsed form of a subject line. RequestID and UserID are
// only populated when Kind is not KindUnrecognized.
type Command struct {
	Kind      model.RequestKind
	RequestID string
	UserID    string
}

// Keyword prefixes selecting the request kind. The registration keyword is
// matched on its first seven characters, so "Register", "Registered" and
// "REGISTE" all classify the same way.
const (
	prefixRegister = "REGISTE"
	prefixCatalog  = "CATALOG"
	prefixContent  = "CONTENT"
	prefixFeed     = "FEED"
)

// Parse classifies a subject line. Malformed subjects never produce an
// error; they degrade to KindUnrecognized and the message is treated as
// ordinary (non-command) mail.
func Parse(line string) Command {
	tokens := strings.Split(strings.TrimSpace(line), " ")
	if len(tokens) != 4 {
		return Command{Kind: model.KindUnrecognized}
	}

	// tokens[2] is the connective word ("by") and is not validated.
	keyword := strings.ToUpper(tokens[0])
	cmd := Command{RequestID: tokens[1], UserID: tokens[3]}

	switch {
	case strings.HasPrefix(keyword, prefixRegister):
		cmd.Kind = model.KindRegistration
	case strings.HasPrefix(keyword, prefixCatalog):
		cmd.Kind = model.KindCatalog
	case strings.HasPrefix(keyword, prefixContent):
		cmd.Kind = model.KindContent
	case strings.HasPrefix(keyword, prefixFeed):
		cmd.Kind = model.KindFeed
	default:
		return Command{Kind: model.KindUnrecognized}
	}
	return cmd
}
