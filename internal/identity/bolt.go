package identity

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	usersBucket  = []byte("users")
	phonesBucket = []byte("user_phones")
)

// BoltRepository stores users as JSON in a bbolt file shared with the ledger.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository prepares the user buckets.
func NewBoltRepository(db *bolt.DB) (*BoltRepository, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{usersBucket, phonesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Create(_ context.Context, user User) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		phones := tx.Bucket(phonesBucket)
		if phones.Get([]byte(user.Phone)) != nil {
			return ErrUserExists
		}
		if err := phones.Put([]byte(user.Phone), []byte(user.ID)); err != nil {
			return err
		}
		return putUser(tx, user)
	})
}

func (r *BoltRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	var user User
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(phonesBucket).Get([]byte(phone))
		if id == nil {
			return ErrUserNotFound
		}
		var err error
		user, err = getUser(tx, string(id))
		return err
	})
	return user, err
}

func (r *BoltRepository) FindByID(_ context.Context, id string) (User, error) {
	var user User
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		user, err = getUser(tx, id)
		return err
	})
	return user, err
}

func (r *BoltRepository) UpdateDevice(_ context.Context, id, deviceID string) error {
	return r.update(id, func(u *User) { u.DeviceID = deviceID })
}

func (r *BoltRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	return r.update(id, func(u *User) { u.TokenVersion = version })
}

func (r *BoltRepository) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *User) {
		at := at.UTC()
		u.LastLogin = &at
	})
}

func (r *BoltRepository) update(id string, fn func(*User)) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		user, err := getUser(tx, id)
		if err != nil {
			return err
		}
		fn(&user)
		return putUser(tx, user)
	})
}

func getUser(tx *bolt.Tx, id string) (User, error) {
	raw := tx.Bucket(usersBucket).Get([]byte(id))
	if raw == nil {
		return User{}, ErrUserNotFound
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func putUser(tx *bolt.Tx, user User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return tx.Bucket(usersBucket).Put([]byte(user.ID), raw)
}
