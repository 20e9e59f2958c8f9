package audit

import (
	"context"
	"database/sql"

	"nasmusic.dev/internal/paging"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on the audit_logs table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	row := s.db.QueryRowContext(ctx,
		`insert into audit_logs(user_id, action, resource_type, resource_id, details, ip_address, user_agent, status, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9) returning id`,
		entry.UserID, entry.Action,
		nullString(entry.ResourceType), nullString(entry.ResourceID), nullString(entry.Details),
		nullString(truncate(entry.IPAddress, 45)), nullString(truncate(entry.UserAgent, 500)),
		entry.Status, entry.CreatedAt,
	)
	return row.Scan(&entry.ID)
}

func (s *PGStore) List(ctx context.Context, page paging.Page) ([]Entry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, action, resource_type, resource_id, details, ip_address, user_agent, status, created_at
		 from audit_logs order by created_at desc, id desc limit $1 offset $2`,
		page.Limit(), page.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := make([]Entry, 0, page.Limit())
	for rows.Next() {
		var (
			e      Entry
			userID sql.NullInt64
		)
		var resType, resID, details, ip, agent, status sql.NullString
		if err := rows.Scan(&e.ID, &userID, &e.Action, &resType, &resID, &details, &ip, &agent, &status, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if userID.Valid {
			v := userID.Int64
			e.UserID = &v
		}
		e.ResourceType = resType.String
		e.ResourceID = resID.String
		e.Details = details.String
		e.IPAddress = ip.String
		e.UserAgent = agent.String
		e.Status = status.String
		res = append(res, e)
	}
	return res, total, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
