package db

import (
	"crypto/sha3"
	"database/sql"
	"encoding/hex"
	"fmt"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

// SQLiteDriverName is SQLCipher with photo_digest(blob) registered on every
// connection. photo_digest returns the lowercase hex sha3-256 of its argument,
// the same fingerprint s3client.Digest computes for gallery keys.
const SQLiteDriverName = "sqlite3_carsphere"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("photo_digest", photoDigest, true); err != nil {
				return fmt.Errorf("register photo_digest: %w", err)
			}
			return nil
		},
	})
}

func photoDigest(content []byte) string {
	sum := sha3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
