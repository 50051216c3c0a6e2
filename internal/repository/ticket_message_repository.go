package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/intercity/bus-reservation/internal/model"
)

// TicketMessageRepo persists support-ticket chat messages.  A message is
// written before it is broadcast so that the delivered event always
// carries a durable UUID; clients that rendered an optimistic placeholder
// replace it once the confirmed event arrives.
type TicketMessageRepo struct {
	db *sql.DB
}

// NewTicketMessageRepo returns a new TicketMessageRepo bound to the given
// database.
func NewTicketMessageRepo(db *sql.DB) *TicketMessageRepo { return &TicketMessageRepo{db: db} }

// TicketExists reports whether the support ticket is present.  The socket
// layer checks this before letting a connection join a ticket room.
func (r *TicketMessageRepo) TicketExists(ctx context.Context, ticketID uint64) (bool, error) {
	const q = `SELECT 1 FROM tickets WHERE id = ?`
	var one int
	err := r.db.QueryRowContext(ctx, q, ticketID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create stores a new message on the ticket and returns it with the
// server-assigned UUID and receipt timestamp populated.  It returns
// ErrTicketNotFound when the ticket does not exist.
func (r *TicketMessageRepo) Create(ctx context.Context, ticketID uint64, userID *uint64, body string) (*model.TicketMessage, error) {
	ok, err := r.TicketExists(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTicketNotFound
	}
	msg := &model.TicketMessage{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	const q = `INSERT INTO ticket_messages (id, ticket_id, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)`
	var uid interface{}
	if userID != nil {
		uid = *userID
	}
	if _, err := r.db.ExecContext(ctx, q, msg.ID, msg.TicketID, uid, msg.Body, msg.CreatedAt.Format("2006-01-02 15:04:05")); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListByTicket returns the most recent messages on a ticket in
// chronological order, capped at limit.  New room members use this to
// backfill history before live events start flowing.
func (r *TicketMessageRepo) ListByTicket(ctx context.Context, ticketID uint64, limit int) ([]model.TicketMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, ticket_id, user_id, body, created_at
	           FROM ticket_messages
	           WHERE ticket_id = ?
	           ORDER BY created_at DESC
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []model.TicketMessage
	for rows.Next() {
		var m model.TicketMessage
		var uid sql.NullInt64
		if err := rows.Scan(&m.ID, &m.TicketID, &uid, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			u := uint64(uid.Int64)
			m.UserID = &u
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
