package infra

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OpenBolt opens or creates the bbolt file at path. A second process holding
// the file lock makes Open fail after one second instead of blocking forever.
func OpenBolt(path string) (*bolt.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return db, nil
}
