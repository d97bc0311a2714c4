package postgres

import (
	"context"
	"fmt"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
)

// InsertByteArray persists a new byte-array row.
func (s *Store) InsertByteArray(ctx context.Context, e *bytearray.Entity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flw_byte_arrays (id, revision, name, bytes)
		VALUES ($1, $2, $3, $4)`,
		e.ID, e.Revision, e.Name, e.Bytes,
	)
	if err != nil {
		if duplicateConstraint(err) != "" {
			return jobservice.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobservice/postgres: insert byte array: %w", err)
	}
	return nil
}

// GetByteArray retrieves a byte-array row by id.
func (s *Store) GetByteArray(ctx context.Context, byteArrayID id.ID) (*bytearray.Entity, error) {
	var e bytearray.Entity
	err := s.pool.QueryRow(ctx, `
		SELECT id, revision, name, bytes
		FROM flw_byte_arrays WHERE id = $1`,
		byteArrayID,
	).Scan(&e.ID, &e.Revision, &e.Name, &e.Bytes)
	if err != nil {
		if isNoRows(err) {
			return nil, jobservice.ErrByteArrayNotFound
		}
		return nil, fmt.Errorf("jobservice/postgres: get byte array: %w", err)
	}
	return &e, nil
}

// UpdateByteArray overwrites the name and bytes of an existing row.
func (s *Store) UpdateByteArray(ctx context.Context, e *bytearray.Entity) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE flw_byte_arrays
		SET name = $2, bytes = $3, revision = revision + 1
		WHERE id = $1`,
		e.ID, e.Name, e.Bytes,
	)
	if err != nil {
		return fmt.Errorf("jobservice/postgres: update byte array: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobservice.ErrByteArrayNotFound
	}
	e.Revision = e.NextRevision()
	return nil
}

// DeleteByteArray removes a byte-array row by id.
func (s *Store) DeleteByteArray(ctx context.Context, byteArrayID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flw_byte_arrays WHERE id = $1`, byteArrayID)
	if err != nil {
		return fmt.Errorf("jobservice/postgres: delete byte array: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobservice.ErrByteArrayNotFound
	}
	return nil
}
