package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dinehub1/rewardjar-sync/internal/card"
	"github.com/Dinehub1/rewardjar-sync/internal/syncqueue"
)

// Postgres implements every store interface against the shared relational
// collaborator. All SQL lives here; services never see a connection.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same row
// helpers run inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const cardColumns = `
	id, customer_id, template_id, kind,
	current_stamps, total_stamps, sessions_used, total_sessions,
	expiry_date, cost_cents, platforms, created_at, updated_at
`

func (p *Postgres) GetCard(ctx context.Context, id uuid.UUID) (card.CardInstance, error) {
	query := `SELECT ` + cardColumns + ` FROM card_instances WHERE id = $1`
	return scanCard(p.db.QueryRow(ctx, query, id))
}

func scanCard(row pgx.Row) (card.CardInstance, error) {
	var id, customerID, templateID uuid.UUID
	var kind card.Kind
	var currentStamps, totalStamps, sessionsUsed, totalSessions *int
	var expiryDate *time.Time
	var costCents *int64
	var platforms []string
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&id, &customerID, &templateID, &kind,
		&currentStamps, &totalStamps, &sessionsUsed, &totalSessions,
		&expiryDate, &costCents, &platforms, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan card instance: %w", err)
	}

	switch kind {
	case card.KindStamp:
		c := &card.StampCard{
			ID: id, CustomerID: customerID, TemplateID: templateID,
			Platforms: platforms, CreatedAt: createdAt, UpdatedAt: updatedAt,
		}
		if currentStamps != nil {
			c.CurrentStamps = *currentStamps
		}
		if totalStamps != nil {
			c.TotalStamps = *totalStamps
		}
		return c, nil
	case card.KindMembership:
		c := &card.MembershipCard{
			ID: id, CustomerID: customerID, TemplateID: templateID,
			ExpiryDate: expiryDate, CostCents: costCents,
			Platforms: platforms, CreatedAt: createdAt, UpdatedAt: updatedAt,
		}
		if sessionsUsed != nil {
			c.SessionsUsed = *sessionsUsed
		}
		if totalSessions != nil {
			c.TotalSessions = *totalSessions
		}
		return c, nil
	}
	return nil, fmt.Errorf("card instance has unknown kind %q", kind)
}

func (p *Postgres) GetTemplate(ctx context.Context, id uuid.UUID) (*card.CardTemplate, error) {
	query := `
		SELECT id, business_id, kind, name, reward_description, membership_benefits
		FROM card_templates
		WHERE id = $1
	`
	var tpl card.CardTemplate
	err := p.db.QueryRow(ctx, query, id).Scan(
		&tpl.ID, &tpl.BusinessID, &tpl.Kind, &tpl.Name,
		&tpl.RewardDescription, &tpl.MembershipBenefits,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get card template: %w", err)
	}
	return &tpl, nil
}

func (p *Postgres) GetBusiness(ctx context.Context, id uuid.UUID) (*card.Business, error) {
	query := `
		SELECT id, name, description, logo_url, brand_color, contact_email, website_url
		FROM businesses
		WHERE id = $1
	`
	var biz card.Business
	err := p.db.QueryRow(ctx, query, id).Scan(
		&biz.ID, &biz.Name, &biz.Description, &biz.LogoURL,
		&biz.BrandColor, &biz.ContactEmail, &biz.WebsiteURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return &biz, nil
}

func (p *Postgres) DeviceTokens(ctx context.Context, customerID uuid.UUID) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT token FROM customer_devices WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (p *Postgres) AppendEvent(ctx context.Context, ev *card.CardEvent) error {
	return appendEvent(ctx, p.db, ev)
}

func appendEvent(ctx context.Context, q querier, ev *card.CardEvent) error {
	query := `
		INSERT INTO card_events (id, card_id, event_type, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.Exec(ctx, query, ev.ID, ev.CardID, ev.Type, ev.ActorID, ev.Metadata, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append card event: %w", err)
	}
	return nil
}

func (p *Postgres) LatestEventAt(ctx context.Context, cardID uuid.UUID, et card.EventType) (*time.Time, error) {
	query := `
		SELECT created_at FROM card_events
		WHERE card_id = $1 AND event_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var at time.Time
	err := p.db.QueryRow(ctx, query, cardID, et).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest card event: %w", err)
	}
	return &at, nil
}

func (p *Postgres) ListEvents(ctx context.Context, cardID uuid.UUID, limit int) ([]*card.CardEvent, error) {
	query := `
		SELECT id, card_id, event_type, actor_id, metadata, created_at
		FROM card_events
		WHERE card_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := p.db.Query(ctx, query, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list card events: %w", err)
	}
	defer rows.Close()

	var events []*card.CardEvent
	for rows.Next() {
		ev := &card.CardEvent{}
		if err := rows.Scan(&ev.ID, &ev.CardID, &ev.Type, &ev.ActorID, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CommitMark runs the conditional increment, the event append and the job
// enqueue in one transaction. The UPDATE re-checks the capacity guard, so a
// concurrent mark that fills the card between the service's read and this
// commit surfaces as ErrConflict instead of exceeding the maximum.
func (p *Postgres) CommitMark(ctx context.Context, cardID uuid.UUID, action card.ActionType, ev *card.CardEvent, job *syncqueue.Job) (card.CardInstance, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var query string
	if action == card.ActionSession {
		query = `
			UPDATE card_instances
			SET sessions_used = sessions_used + 1, updated_at = NOW()
			WHERE id = $1 AND kind = 'membership' AND sessions_used < total_sessions
			RETURNING ` + cardColumns
	} else {
		query = `
			UPDATE card_instances
			SET current_stamps = current_stamps + 1, updated_at = NOW()
			WHERE id = $1 AND kind = 'stamp' AND current_stamps < total_stamps
			RETURNING ` + cardColumns
	}

	updated, err := scanCard(tx.QueryRow(ctx, query, cardID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if err := appendEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	if _, err := enqueueJob(ctx, tx, job); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit mark: %w", err)
	}
	return updated, nil
}
