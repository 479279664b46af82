package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opendesk-io/opendesk-ce/internal/database"
	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// UserRepository looks up requesters and agents. Inbound mail uses the
// email lookup to decide whether a sender is known.
type UserRepository struct {
	db        *database.DB
	accountID int64
	clock     func() time.Time
}

func NewUserRepository(db *database.DB, accountID int64) *UserRepository {
	return &UserRepository{db: db, accountID: accountID, clock: time.Now}
}

const userColumns = `id, account_id, name, email, company_id, created_at, updated_at`

// Get loads a requester by storage identifier.
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = $1 AND account_id = $2`)
	return scanUser(r.db.QueryRowContext(ctx, q, id, r.accountID))
}

// GetByEmail matches case-insensitively; addresses are stored normalized but
// legacy rows may not be.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = $1 AND account_id = $2`)
	return scanUser(r.db.QueryRowContext(ctx, q, models.NormalizeEmail(email), r.accountID))
}

// Create stores a new requester.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if strings.TrimSpace(user.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	out := *user
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.AccountID = r.accountID
	out.Email = models.NormalizeEmail(out.Email)
	if out.Name == "" {
		out.Name = out.Email
	}
	now := r.clock().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	q := r.db.Rebind(`INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	_, err := r.db.ExecContext(ctx, q, out.ID, out.AccountID, out.Name, out.Email, out.CompanyID, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &out, nil
}

const agentColumns = `id, account_id, name, email, group_id, created_at, updated_at`

// GetAgent loads an agent by storage identifier.
func (r *UserRepository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	q := r.db.Rebind(`SELECT ` + agentColumns + ` FROM agents WHERE id = $1 AND account_id = $2`)
	var a models.Agent
	err := r.db.QueryRowContext(ctx, q, id, r.accountID).Scan(
		&a.ID, &a.AccountID, &a.Name, &a.Email, &a.GroupID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAgent stores a new agent.
func (r *UserRepository) CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	if strings.TrimSpace(agent.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	out := *agent
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.AccountID = r.accountID
	out.Email = models.NormalizeEmail(out.Email)
	if out.Name == "" {
		out.Name = out.Email
	}
	now := r.clock().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	q := r.db.Rebind(`INSERT INTO agents (` + agentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	_, err := r.db.ExecContext(ctx, q, out.ID, out.AccountID, out.Name, out.Email, out.GroupID, out.CreatedAt, out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}
	return &out, nil
}

// ResolveActor finds the requester or agent with the given identifier.
// Requesters are checked first since they make up the bulk of authors.
func (r *UserRepository) ResolveActor(ctx context.Context, id string) (models.Actor, error) {
	user, err := r.Get(ctx, id)
	if err == nil {
		return models.UserActor(user), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Actor{}, err
	}
	agent, err := r.GetAgent(ctx, id)
	if err != nil {
		return models.Actor{}, err
	}
	return models.AgentActor(agent), nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.AccountID, &u.Name, &u.Email, &u.CompanyID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
