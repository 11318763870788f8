// Package identity cross-checks the identity a command message claims
// against the registered-user directory.
package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gcode-mirror/foe-project/internal/model"
)

// ErrNotVerified is returned for every verification failure: unknown
// sender, user-id mismatch or processor mismatch. There is no
// partial-trust mode.
var ErrNotVerified = errors.New("sender identity not verified")

// Directory looks up registered users. A nil user with a nil error means
// the address is not registered.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

type Verifier struct {
	dir            Directory
	processorEmail string
	logger         *zap.Logger
}

// NewVerifier builds a verifier bound to this processor's own address.
// Requests addressed to another processor's mailbox are rejected even for
// known users.
func NewVerifier(dir Directory, processorEmail string, logger *zap.Logger) *Verifier {
	return &Verifier{
		dir:            dir,
		processorEmail: processorEmail,
		logger:         logger.Named("identity"),
	}
}

// Verify resolves the sender address and checks the claimed user id and
// the processor binding. Directory infrastructure errors propagate
// unchanged; every mismatch yields ErrNotVerified.
func (v *Verifier) Verify(ctx context.Context, fromEmail, claimedUserID string) (*model.User, error) {
	user, err := v.dir.FindByEmail(ctx, fromEmail)
	if err != nil {
		return nil, fmt.Errorf("directory lookup for %s: %w", fromEmail, err)
	}

	switch {
	case user == nil:
		v.logger.Warn("sender not registered", zap.String("from", fromEmail))
		return nil, ErrNotVerified
	case user.UserID != claimedUserID:
		v.logger.Warn("claimed user id does not match directory",
			zap.String("from", fromEmail),
			zap.String("claimed_user_id", claimedUserID),
		)
		return nil, ErrNotVerified
	case user.ProcessorEmail != v.processorEmail:
		v.logger.Warn("sender is bound to another processor",
			zap.String("from", fromEmail),
			zap.String("processor", user.ProcessorEmail),
		)
		return nil, ErrNotVerified
	}

	return user, nil
}
