package postgres

import (
	"fmt"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// ListsRepo answers the filter's membership questions against the operator
// tables. All queries are existence checks on indexed primary keys.
type ListsRepo struct{ Pool PgxPool }

// NewListsRepo constructs a ListsRepo with the given pool.
func NewListsRepo(p PgxPool) *ListsRepo { return &ListsRepo{Pool: p} }

// IsContactPaused reports whether the contact explicitly paused the bot.
func (r *ListsRepo) IsContactPaused(ctx domain.Context, contactID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM paused_contacts WHERE contact_id=$1)`, contactID, "lists.IsContactPaused")
}

// IsGroupBlacklisted reports whether the chat is record-only.
func (r *ListsRepo) IsGroupBlacklisted(ctx domain.Context, chatID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM group_blacklist WHERE chat_id=$1)`, chatID, "lists.IsGroupBlacklisted")
}

// IsGroupBlocked reports whether the enterprise group id is blocked outright.
func (r *ListsRepo) IsGroupBlocked(ctx domain.Context, groupID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM blocked_groups WHERE group_id=$1)`, groupID, "lists.IsGroupBlocked")
}

func (r *ListsRepo) exists(ctx domain.Context, q, id, op string) (bool, error) {
	var found bool
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&found); err != nil {
		return false, fmt.Errorf("op=%s: %w", op, err)
	}
	return found, nil
}
