// Package db persists the sandbox catalog in SQLite (SQLCipher build).
//
// One Store holds users, login sessions, car listings, reviews and gallery
// photos. File-backed stores are encrypted when a key is supplied; in-memory
// stores back the hermetic sandbox the suites start by default.
package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/carsphere-qa/internal/errs"
)

const (
	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, and in-memory databases vanish when their last
	// connection closes, so one pooled connection is kept alive.
	MaxOpenConns = 1

	// MaxIdleConns keeps that connection open between requests.
	MaxIdleConns = 1
)

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ErrDuplicatePhoto is returned by AddPhoto when the listing already has the same image.
var ErrDuplicatePhoto = errs.New(errs.FailedPrecondition, "photo already in gallery")

// ErrUsernameTaken is returned by CreateUser for an existing username.
var ErrUsernameTaken = errs.New(errs.FailedPrecondition, "username already exists")

// User is an account on the site.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	CreatedAt    time.Time
}

// IsAdmin reports whether the user may use the admin panel.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Car is a catalog listing.
type Car struct {
	ID            int64
	OwnerID       int64
	OwnerUsername string
	Make          string
	Model         string
	Year          int
	Director      string
	MainSettings  string
	Description   string
	ImageKey      string
	CreatedAt     time.Time
}

// Title is the "Make Model" string shown on the catalog.
func (c *Car) Title() string {
	return strings.TrimSpace(c.Make + " " + c.Model)
}

// Review is a user or AI review of a listing.
type Review struct {
	ID        int64
	CarID     int64
	Author    string
	Body      string
	AI        bool
	CreatedAt time.Time
}

// Photo is a gallery image stored in object storage.
type Photo struct {
	ID          int64
	CarID       int64
	Key         string
	ContentHash string
	ContentType string
	CreatedAt   time.Time
}

// NewCar holds the fields of the add-car form.
type NewCar struct {
	OwnerID      int64
	Make         string
	Model        string
	Year         int
	Director     string
	MainSettings string
	Description  string
	ImageKey     string
}

// Store wraps the sandbox database connection.
type Store struct {
	db *sql.DB
}

// NewStoreFromSQL wraps an existing sql.DB whose schema is already applied.
func NewStoreFromSQL(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB}
}

// DB returns the underlying sql.DB for direct access when needed
func (s *Store) DB() *sql.DB {
	return s.db
}

// Open opens (and creates) a file-backed store under dataDir. A non-empty key
// must be 32 bytes and turns on SQLCipher encryption.
func Open(dataDir string, key []byte) (*Store, error) {
	if len(key) != 0 && len(key) != 32 {
		return nil, fmt.Errorf("database key must be exactly 32 bytes, got %d", len(key))
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := filepath.Join(dataDir, "carsphere.db")
	if len(key) > 0 {
		// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dsn, hex.EncodeToString(key))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())
	return open(dsn)
}

// OpenInMemory opens a private in-memory store.
func OpenInMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:carsphere-%s?mode=memory&cache=shared", uuid.NewString())
	dsn = appendSQLiteParams(dsn, "_foreign_keys=on")
	return open(dsn)
}

func open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	// If the encryption key is wrong, this will fail
	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return NewStoreFromSQL(sqlDB), nil
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- users ---

// CreateUser inserts an account. Returns ErrUsernameTaken when the username exists.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	if u.Role == "" {
		u.Role = RoleUser
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, first_name, last_name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.Role, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if n == 0 {
		return nil, ErrUsernameTaken
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	u.CreatedAt = time.Unix(now.Unix(), 0).UTC()
	return &u, nil
}

const userColumns = `id, username, password_hash, first_name, last_name, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// UserByUsername looks up an account by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %q: %w", username, err)
	}
	return u, nil
}

// ListUsers returns every account in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// --- sessions ---

// CreateSession starts a login session for userID lasting ttl.
func (s *Store) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)
	`, id, userID, now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// SessionUser returns the account behind a live session.
func (s *Store) SessionUser(ctx context.Context, sessionID string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.first_name, u.last_name, u.role, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.session_id = ? AND s.expires_at > ?
	`, sessionID, time.Now().UTC().Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.PermissionDenied, "session expired or unknown")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return u, nil
}

// DeleteSession ends a login session. Unknown ids are ignored.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that ended before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- cars ---

// CreateCar inserts a listing.
func (s *Store) CreateCar(ctx context.Context, c NewCar) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cars (owner_id, make, model, year, director, main_settings, description, image_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.OwnerID, c.Make, c.Model, c.Year, c.Director, c.MainSettings, c.Description, c.ImageKey, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create car: %w", err)
	}
	return res.LastInsertId()
}

const carSelect = `
	SELECT c.id, c.owner_id, u.username, c.make, c.model, c.year, c.director,
	       c.main_settings, c.description, c.image_key, c.created_at
	FROM cars c JOIN users u ON u.id = c.owner_id`

func scanCar(row interface{ Scan(...any) error }) (*Car, error) {
	var c Car
	var created int64
	if err := row.Scan(&c.ID, &c.OwnerID, &c.OwnerUsername, &c.Make, &c.Model, &c.Year, &c.Director,
		&c.MainSettings, &c.Description, &c.ImageKey, &created); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

// Car loads one listing.
func (s *Store) Car(ctx context.Context, id int64) (*Car, error) {
	c, err := scanCar(s.db.QueryRowContext(ctx, carSelect+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "car not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load car %d: %w", id, err)
	}
	return c, nil
}

// ListCars returns every listing in insertion order.
func (s *Store) ListCars(ctx context.Context) ([]Car, error) {
	rows, err := s.db.QueryContext(ctx, carSelect+` ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cars: %w", err)
	}
	defer rows.Close()

	var cars []Car
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan car: %w", err)
		}
		cars = append(cars, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cars: %w", err)
	}
	return cars, nil
}

// DeleteCar removes a listing with its reviews and photos and returns the
// object keys the caller should purge from storage.
func (s *Store) DeleteCar(ctx context.Context, id int64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	var imageKey string
	err = tx.QueryRowContext(ctx, `SELECT image_key FROM cars WHERE id = ?`, id).Scan(&imageKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "car not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load car %d: %w", id, err)
	}

	var keys []string
	if imageKey != "" {
		keys = append(keys, imageKey)
	}
	rows, err := tx.QueryContext(ctx, `SELECT object_key FROM photos WHERE car_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan photo key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()

	for _, stmt := range []string{
		`DELETE FROM reviews WHERE car_id = ?`,
		`DELETE FROM photos WHERE car_id = ?`,
		`DELETE FROM cars WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("failed to delete car %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return keys, nil
}

// --- reviews ---

// AddReview appends a review to a listing.
func (s *Store) AddReview(ctx context.Context, carID int64, author, body string, ai bool) (*Review, error) {
	now := time.Now().UTC()
	isAI := 0
	if ai {
		isAI = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (car_id, author, body, is_ai, created_at) VALUES (?, ?, ?, ?, ?)
	`, carID, author, body, isAI, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to add review: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read review id: %w", err)
	}
	return &Review{ID: id, CarID: carID, Author: author, Body: body, AI: ai, CreatedAt: time.Unix(now.Unix(), 0).UTC()}, nil
}

// Reviews returns a listing's reviews, oldest first.
func (s *Store) Reviews(ctx context.Context, carID int64) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, car_id, author, body, is_ai, created_at FROM reviews WHERE car_id = ? ORDER BY id
	`, carID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var isAI, created int64
		if err := rows.Scan(&r.ID, &r.CarID, &r.Author, &r.Body, &isAI, &created); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		r.AI = isAI != 0
		r.CreatedAt = time.Unix(created, 0).UTC()
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	return reviews, nil
}

// --- photos ---

// AddPhoto records a gallery photo fingerprinted by sha3-256 of its bytes.
// Returns ErrDuplicatePhoto when the listing already holds the same image.
func (s *Store) AddPhoto(ctx context.Context, carID int64, key, contentType string, content []byte) (*Photo, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (car_id, object_key, content_hash, content_type, created_at)
		VALUES (?, ?, photo_digest(?), ?, ?)
		ON CONFLICT(car_id, content_hash) DO NOTHING
	`, carID, key, content, contentType, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to add photo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to add photo: %w", err)
	}
	if n == 0 {
		return nil, ErrDuplicatePhoto
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read photo id: %w", err)
	}

	var hash string
	if err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM photos WHERE id = ?`, id).Scan(&hash); err != nil {
		return nil, fmt.Errorf("failed to read photo hash: %w", err)
	}
	return &Photo{ID: id, CarID: carID, Key: key, ContentHash: hash, ContentType: contentType, CreatedAt: time.Unix(now.Unix(), 0).UTC()}, nil
}

// DeletePhoto removes a photo row, used to roll back a failed upload.
func (s *Store) DeletePhoto(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete photo %d: %w", id, err)
	}
	return nil
}

// Photos returns a listing's gallery, oldest first.
func (s *Store) Photos(ctx context.Context, carID int64) ([]Photo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, car_id, object_key, content_hash, content_type, created_at
		FROM photos WHERE car_id = ? ORDER BY id
	`, carID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var p Photo
		var created int64
		if err := rows.Scan(&p.ID, &p.CarID, &p.Key, &p.ContentHash, &p.ContentType, &created); err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		p.CreatedAt = time.Unix(created, 0).UTC()
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating photos: %w", err)
	}
	return photos, nil
}
