package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
)

// InsertByteArray persists a new byte-array document.
func (s *Store) InsertByteArray(ctx context.Context, e *bytearray.Entity) error {
	_, err := s.db.Collection(colByteArrays).InsertOne(ctx, toByteArrayModel(e))
	if err != nil {
		if isDuplicateKey(err) {
			return jobservice.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobservice/mongo: insert byte array: %w", err)
	}
	return nil
}

// GetByteArray retrieves a byte-array document by id.
func (s *Store) GetByteArray(ctx context.Context, byteArrayID id.ID) (*bytearray.Entity, error) {
	var m byteArrayModel
	err := s.db.Collection(colByteArrays).
		FindOne(ctx, bson.M{"_id": byteArrayID.String()}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobservice.ErrByteArrayNotFound
		}
		return nil, fmt.Errorf("jobservice/mongo: get byte array: %w", err)
	}
	return fromByteArrayModel(&m)
}

// UpdateByteArray overwrites the name and bytes of an existing document.
func (s *Store) UpdateByteArray(ctx context.Context, e *bytearray.Entity) error {
	m := toByteArrayModel(e)
	m.Revision = e.NextRevision()

	res, err := s.db.Collection(colByteArrays).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("jobservice/mongo: update byte array: %w", err)
	}
	if res.MatchedCount == 0 {
		return jobservice.ErrByteArrayNotFound
	}
	e.Revision = m.Revision
	return nil
}

// DeleteByteArray removes a byte-array document by id.
func (s *Store) DeleteByteArray(ctx context.Context, byteArrayID id.ID) error {
	res, err := s.db.Collection(colByteArrays).DeleteOne(ctx, bson.M{"_id": byteArrayID.String()})
	if err != nil {
		return fmt.Errorf("jobservice/mongo: delete byte array: %w", err)
	}
	if res.DeletedCount == 0 {
		return jobservice.ErrByteArrayNotFound
	}
	return nil
}
