package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gcode-mirror/foe-project/internal/model"
)

type RequestRepository struct {
	db *pgxpool.Pool
}

func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

// InsertRequest writes one pending request row. Each row commits
// independently; a multi-row content request is a sequence of these.
func (r *RequestRepository) InsertRequest(ctx context.Context, req *model.Request) error {
	code, err := req.Type.Code()
	if err != nil {
		return err
	}

	var message *string
	if req.Message != "" {
		message = &req.Message
	}

	query := `
        INSERT INTO requests (request_type, user_email, request_id, processor_email, request_message, received_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err = r.db.Exec(ctx, query,
		code,
		req.UserEmail,
		req.RequestID,
		req.ProcessorEmail,
		message,
		req.ReceivedAt,
		string(req.Status),
	)
	if err != nil {
		return fmt.Errorf("insert request %s/%s: %w", code, req.RequestID, err)
	}
	return nil
}
