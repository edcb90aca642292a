package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

const userColumns = `id, username, COALESCE(email, ''), COALESCE(password_hash, ''), role, created_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	var email any
	if user.Email != "" {
		email = user.Email
	}
	var passwordHash any
	if user.PasswordHash != "" {
		passwordHash = user.PasswordHash
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, email, passwordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Checklists

func (s *PostgresStore) ListChecklists(ctx context.Context) ([]ChecklistSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM checklists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list checklists: %w", err)
	}
	defer rows.Close()

	var summaries []ChecklistSummary
	for rows.Next() {
		var summary ChecklistSummary
		if err := rows.Scan(&summary.ID, &summary.Name); err != nil {
			return nil, fmt.Errorf("scan checklist summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) GetChecklist(ctx context.Context, id int64) (Checklist, error) {
	var checklist Checklist
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, created_at FROM checklists WHERE id=$1`, id,
	).Scan(&checklist.ID, &checklist.Name, &checklist.CreatedBy, &checklist.CreatedAt)
	if err != nil {
		return Checklist{}, err
	}
	return checklist, nil
}

// CreateChecklist inserts a checklist and its initial items in one
// transaction, assigning display_order by submission position.
func (s *PostgresStore) CreateChecklist(ctx context.Context, name string, items []string, createdBy uuid.NullUUID) (Checklist, []ChecklistItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checklist{}, nil, fmt.Errorf("begin create checklist: %w", err)
	}
	defer tx.Rollback()

	var checklist Checklist
	checklist.Name = name
	checklist.CreatedBy = createdBy
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO checklists (name, created_by)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, name, createdBy).Scan(&checklist.ID, &checklist.CreatedAt); err != nil {
		return Checklist{}, nil, fmt.Errorf("insert checklist: %w", err)
	}

	created := make([]ChecklistItem, 0, len(items))
	for order, content := range items {
		item := ChecklistItem{
			ChecklistID:  checklist.ID,
			Content:      content,
			DisplayOrder: order,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO checklist_items (checklist_id, content, display_order)
			VALUES ($1, $2, $3)
			RETURNING id
		`, item.ChecklistID, item.Content, item.DisplayOrder).Scan(&item.ID); err != nil {
			return Checklist{}, nil, fmt.Errorf("insert checklist item: %w", err)
		}
		created = append(created, item)
	}

	if err := tx.Commit(); err != nil {
		return Checklist{}, nil, fmt.Errorf("commit create checklist: %w", err)
	}
	return checklist, created, nil
}

// DeleteChecklist removes a checklist; items and progress rows go with it
// via ON DELETE CASCADE. Returns false when no such checklist exists.
func (s *PostgresStore) DeleteChecklist(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checklists WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete checklist: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete checklist rows affected: %w", err)
	}
	return affected > 0, nil
}

// Items

func (s *PostgresStore) ListItems(ctx context.Context, checklistID int64) ([]ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checklist_id, content, display_order
		FROM checklist_items
		WHERE checklist_id=$1
		ORDER BY display_order, id
	`, checklistID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []ChecklistItem
	for rows.Next() {
		var item ChecklistItem
		if err := rows.Scan(&item.ID, &item.ChecklistID, &item.Content, &item.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemOrders rewrites display_order to the position of each id in
// itemIDs, all in one transaction. The caller has already validated that
// the id set matches the checklist's items.
func (s *PostgresStore) UpdateItemOrders(ctx context.Context, checklistID int64, itemIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	for position, itemID := range itemIDs {
		result, err := tx.ExecContext(ctx, `
			UPDATE checklist_items SET display_order=$1
			WHERE id=$2 AND checklist_id=$3
		`, position, itemID, checklistID)
		if err != nil {
			return fmt.Errorf("update item order: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reorder rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("reorder item %d: %w", itemID, sql.ErrNoRows)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

// Progress

// ToggleProgress flips the checked flag for (userID, itemID) in a single
// upsert statement, creating the row checked=true when absent. Concurrent
// toggles on the same pair serialize inside Postgres.
func (s *PostgresStore) ToggleProgress(ctx context.Context, userID uuid.UUID, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_checklist_progress (user_id, item_id, checked)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (user_id, item_id)
		DO UPDATE SET checked = NOT user_checklist_progress.checked
	`, userID, itemID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Unknown user or item.
			return fmt.Errorf("toggle progress: %w", sql.ErrNoRows)
		}
		return fmt.Errorf("toggle progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProgressByChecklist(ctx context.Context, checklistID int64) ([]Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.user_id, p.item_id, p.checked
		FROM user_checklist_progress p
		JOIN checklist_items ci ON ci.id = p.item_id
		WHERE ci.checklist_id=$1
	`, checklistID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var progresses []Progress
	for rows.Next() {
		var progress Progress
		if err := rows.Scan(&progress.UserID, &progress.ItemID, &progress.Checked); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		progresses = append(progresses, progress)
	}
	return progresses, rows.Err()
}

// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2::uuid, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id::text FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Access token revocation

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
