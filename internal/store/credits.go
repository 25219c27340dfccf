package store

import (
	"encoding/json"

	"gitlab.com/NebulousLabs/bolt"

	"github.com/gridx-labs/coordinator/internal/build"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// EnsureUser creates a user's credit ledger with the given initial balance
// if it does not already exist, and returns the (possibly pre-existing)
// balance. This backs both explicit job submission and the Credit Engine's
// ensure_user.
func (s *Store) EnsureUser(userID string, initialBalance float64) (float64, error) {
	var balance float64
	err := s.db.Update(func(tx *bolt.Tx) error {
		credits := tx.Bucket([]byte(bucketCredits))
		if data := credits.Get([]byte(userID)); data != nil {
			var uc gridtypes.UserCredits
			if err := json.Unmarshal(data, &uc); err != nil {
				return err
			}
			balance = uc.Balance
			return nil
		}
		uc := gridtypes.UserCredits{
			UserID:      userID,
			Balance:     initialBalance,
			LastUpdated: now(),
		}
		balance = uc.Balance
		data, err := json.Marshal(&uc)
		if err != nil {
			return err
		}
		return credits.Put([]byte(userID), data)
	})
	return balance, err
}

// GetBalance returns a user's current balance. It does not create the
// ledger: callers that need creation semantics should use EnsureUser.
func (s *Store) GetBalance(userID string) (float64, error) {
	var uc *gridtypes.UserCredits
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketCredits)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		var row gridtypes.UserCredits
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		uc = &row
		return nil
	})
	if err != nil {
		return 0, err
	}
	if uc == nil {
		return 0, nil
	}
	return uc.Balance, nil
}

// Deduct atomically checks and debits amount from a user's balance in one
// transaction, returning ok=false (no error) if the balance is
// insufficient — the reservation half of the Credit Engine.
func (s *Store) Deduct(userID string, amount float64) (bool, error) {
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		credits := tx.Bucket([]byte(bucketCredits))
		data := credits.Get([]byte(userID))
		var uc gridtypes.UserCredits
		if data != nil {
			if err := json.Unmarshal(data, &uc); err != nil {
				return err
			}
		} else {
			uc = gridtypes.UserCredits{UserID: userID}
		}
		if uc.Balance < 0 {
			build.Critical("credit ledger for", userID, "has negative balance", uc.Balance)
		}
		if uc.Balance < amount {
			return nil
		}
		uc.Balance -= amount
		uc.TotalSpent += amount
		uc.LastUpdated = now()
		nd, err := json.Marshal(&uc)
		if err != nil {
			return err
		}
		if err := credits.Put([]byte(userID), nd); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// Credit adds amount to a user's balance, creating the ledger if needed —
// the settlement-time refund/reward half of the Credit Engine.
func (s *Store) Credit(userID string, amount float64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		credits := tx.Bucket([]byte(bucketCredits))
		data := credits.Get([]byte(userID))
		var uc gridtypes.UserCredits
		if data != nil {
			if err := json.Unmarshal(data, &uc); err != nil {
				return err
			}
		} else {
			uc = gridtypes.UserCredits{UserID: userID}
		}
		uc.Balance += amount
		uc.TotalEarned += amount
		uc.LastUpdated = now()
		nd, err := json.Marshal(&uc)
		if err != nil {
			return err
		}
		return credits.Put([]byte(userID), nd)
	})
}

// GetUserCredits returns the full ledger row for the /credits/{user_id}
// endpoint.
func (s *Store) GetUserCredits(userID string) (*gridtypes.UserCredits, error) {
	var uc *gridtypes.UserCredits
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketCredits)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		var row gridtypes.UserCredits
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		uc = &row
		return nil
	})
	return uc, err
}
