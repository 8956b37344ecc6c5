package access

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
)

func TestMemberRepoPG_CreateDuplicateIsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO family_members").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "a@example.com", "son", true,
			false, false, false, false, false, false, false, false).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	repo := NewFamilyMemberRepoPG(mock)
	err = repo.Create(context.Background(), &FamilyMember{PatientID: uuid.New(), Email: "a@example.com", Relationship: "son", Pending: true})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMemberRepoPG_ListByUserExcludesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	userID := uuid.New()
	mock.ExpectQuery(`FROM family_members WHERE user_id = \$1 AND NOT pending`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	items, err := NewFamilyMemberRepoPG(mock).ListByUser(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("expected no rows, got %d", len(items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMemberRepoPG_AcceptIsCompareAndSwap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	userID := uuid.New()
	m := &FamilyMember{ID: uuid.New(), PatientID: uuid.New(), UserID: &userID, Pending: true}
	mock.ExpectQuery(`(?s)UPDATE family_members SET .* WHERE id = \$1 AND pending`).
		WithArgs(m.ID, m.UserID, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	err = NewFamilyMemberRepoPG(mock).Accept(context.Background(), m)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict for an already confirmed invitation, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
