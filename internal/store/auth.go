package store

import (
	"gitlab.com/NebulousLabs/bolt"
	"golang.org/x/crypto/bcrypt"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// RegisterUserAuth hashes and stores a user's auth token.
func (s *Store) RegisterUserAuth(userID, token string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	ua := gridtypes.UserAuth{
		UserID:        userID,
		AuthTokenHash: string(hash),
		CreatedAt:     now(),
	}
	data, err := encodeAuth(&ua)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAuth)).Put([]byte(userID), data)
	})
}

// GetUserAuth returns the stored auth row for userID, if any.
func (s *Store) GetUserAuth(userID string) (*gridtypes.UserAuth, error) {
	var ua *gridtypes.UserAuth
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketAuth)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		row, err := decodeAuth(data)
		if err != nil {
			return err
		}
		ua = row
		return nil
	})
	return ua, err
}

// VerifyUserAuth reports whether token matches the stored hash for userID.
// A user with no registered auth row never verifies — callers decide
// separately whether that is an error or an allowed anonymous path
// (GRIDX_LEGACY_UNAUTH).
func (s *Store) VerifyUserAuth(userID, token string) (bool, error) {
	ua, err := s.GetUserAuth(userID)
	if err != nil || ua == nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(ua.AuthTokenHash), []byte(token)) == nil, nil
}
