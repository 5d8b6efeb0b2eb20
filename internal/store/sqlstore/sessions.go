package sqlstore

import (
	"context"
	"strings"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

var (
	sessionHeadColumns = []string{"id", "register_id", "opened_by", "closed_by", "opened_at", "closed_at"}
	sessionTailColumns = []string{"discrepancy_resolution", "discrepancy_approved_by", "discrepancy_approved_at", "discrepancy_notes", "version"}
	sessionColumns     = concat(
		sessionHeadColumns,
		vectorColumns("opening"),
		vectorColumns("expected"),
		vectorColumns("closing"),
		vectorColumns("discrepancy"),
		sessionTailColumns,
	)
	// Columns an update may rewrite; identity, opening balance and opened_at are fixed.
	sessionMutableColumns = concat(
		[]string{"closed_by", "closed_at"},
		vectorColumns("expected"),
		vectorColumns("closing"),
		vectorColumns("discrepancy"),
		sessionTailColumns,
	)
	sessionSelect = `SELECT ` + strings.Join(sessionColumns, ", ") + ` FROM register_sessions`
)

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func (s *Store) sessionArgs(session domain.RegisterSession) []any {
	args := []any{
		session.ID,
		session.RegisterID,
		session.OpenedBy,
		nullIfEmpty(session.ClosedBy),
		s.dialect.timeValue(session.OpenedAt),
		s.dialect.nullTime(session.ClosedAt),
	}
	args = append(args, vectorArgs(session.OpeningBalance)...)
	return append(args, s.sessionMutableArgs(session)[2:]...)
}

func (s *Store) sessionMutableArgs(session domain.RegisterSession) []any {
	args := []any{nullIfEmpty(session.ClosedBy), s.dialect.nullTime(session.ClosedAt)}
	args = append(args, vectorArgs(session.ExpectedBalance)...)
	args = append(args, nullableVectorArgs(session.ClosingBalance)...)
	args = append(args, nullableVectorArgs(session.Discrepancies)...)
	return append(args,
		nullIfEmpty(string(session.DiscrepancyResolution)),
		nullIfEmpty(session.DiscrepancyApprovedBy),
		s.dialect.nullTime(session.DiscrepancyApprovedAt),
		nullIfEmpty(session.DiscrepancyNotes),
		session.Version,
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.RegisterSession, error) {
	var (
		session                      domain.RegisterSession
		closedBy, resolution         nullString
		approvedBy, notes            nullString
		openedAt, closedAt, approved timeDest
		opening, expected            vectorDest
		closing, discrepancy         vectorDest
	)
	dest := []any{&session.ID, &session.RegisterID, &session.OpenedBy, &closedBy, &openedAt, &closedAt}
	dest = append(dest, opening.targets()...)
	dest = append(dest, expected.targets()...)
	dest = append(dest, closing.targets()...)
	dest = append(dest, discrepancy.targets()...)
	dest = append(dest, &resolution, &approvedBy, &approved, &notes, &session.Version)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	openingVec, err := opening.vector()
	if err != nil {
		return nil, err
	}
	expectedVec, err := expected.vector()
	if err != nil {
		return nil, err
	}
	if openingVec != nil {
		session.OpeningBalance = *openingVec
	}
	if expectedVec != nil {
		session.ExpectedBalance = *expectedVec
	}
	if session.ClosingBalance, err = closing.vector(); err != nil {
		return nil, err
	}
	if session.Discrepancies, err = discrepancy.vector(); err != nil {
		return nil, err
	}

	session.ClosedBy = string(closedBy)
	session.OpenedAt = openedAt.Time
	session.ClosedAt = closedAt.ptr()
	session.DiscrepancyResolution = domain.Resolution(resolution)
	session.DiscrepancyApprovedBy = string(approvedBy)
	session.DiscrepancyApprovedAt = approved.ptr()
	session.DiscrepancyNotes = string(notes)
	return &session, nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.RegisterSession) error {
	_, err := s.exec(ctx, s.q, `
		INSERT INTO register_sessions (`+strings.Join(sessionColumns, ", ")+`)
		VALUES (`+placeholders(1, len(sessionColumns))+`)
	`, s.sessionArgs(session)...)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.RegisterSession, error) {
	session, err := scanSession(s.queryRow(ctx, sessionSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (s *Store) GetOpenSession(ctx context.Context, registerID string) (*domain.RegisterSession, error) {
	session, err := scanSession(s.queryRow(ctx, sessionSelect+` WHERE register_id = $1 AND closed_at IS NULL`, registerID))
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, registerID string, limit int) ([]domain.RegisterSession, error) {
	if limit < 1 {
		limit = 50
	}
	query := sessionSelect + ` WHERE ($1 = '' OR register_id = $1) ORDER BY opened_at DESC, id DESC LIMIT $2`
	rows, err := s.query(ctx, query, registerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.RegisterSession, 0, 16)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) UpdateSession(ctx context.Context, session domain.RegisterSession, expectedVersion int64) error {
	args := append([]any{session.ID, expectedVersion}, s.sessionMutableArgs(session)...)
	affected, err := s.exec(ctx, s.q, `
		UPDATE register_sessions
		SET `+assignments(sessionMutableColumns, 3)+`
		WHERE id = $1 AND version = $2
	`, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.casMiss(ctx, s.q, "register_sessions", session.ID)
	}
	return nil
}
