// Package users persists registered subjects in SQLite.
package users

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/youruser/chainoftrust/internal/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

const userColumns = `id, username, name, email, subject_no, unique_key, card_path, created_at, email_sent_at`

// Store is the user table.
type Store struct {
	db      *sql.DB
	path    string
	columns string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_txlock=immediate"
	log.Debug(log.CatDB, "Opening database", "path", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to open database", err, "path", path)
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatDB, "Failed to ping database", err, "path", path)
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info(log.CatDB, "Connected to database", "path", path)
	return &Store{db: db, path: path, columns: userColumns}, nil
}

// OpenReadOnly opens an existing database without migrating or writing to
// it. Databases written by the older Python service lack email_sent_at and
// store created_at as text; both are read as-is.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	cols, err := tableColumns(db, "users")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read users schema: %w", err)
	}
	if !cols["username"] || !cols["email"] {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %s has no users table", path)
	}
	selected := make([]string, 0, 9)
	for _, c := range strings.Split(userColumns, ", ") {
		switch {
		case cols[c]:
			selected = append(selected, c)
		case c == "id":
			selected = append(selected, "rowid AS id")
		default:
			selected = append(selected, "NULL AS "+c)
		}
	}
	log.Debug(log.CatDB, "Opened database read-only", "path", path)
	return &Store{db: db, path: path, columns: strings.Join(selected, ", ")}, nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path is the database file the store was opened on.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection with a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Count returns the number of users.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Get returns the user with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+s.columns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// List returns every user ordered by id.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+s.columns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkEmailed records that the card mail went out.
func (s *Store) MarkEmailed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET email_sent_at = ? WHERE id = ?", at.Unix(), id)
	if err != nil {
		return fmt.Errorf("mark emailed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Tx is a registration in progress. The row inserted by Insert only becomes
// visible on Commit.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Insert creates the user row. Duplicate usernames or emails yield ErrConflict.
func (t *Tx) Insert(ctx context.Context, nu NewUser) (User, error) {
	if nu.Name == "" {
		nu.Name = "Anon"
	}
	now := time.Now().UTC().Truncate(time.Second)
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO users (username, name, email, created_at) VALUES (?, ?, ?, ?)",
		nu.Username, nu.Name, nu.Email, now.Unix())
	if err != nil {
		return User{}, wrapConstraint(err, "insert user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return User{ID: id, Username: nu.Username, Name: nu.Name, Email: nu.Email, CreatedAt: now}, nil
}

// Finalize stores the subject number, card path and key hash of user id.
func (t *Tx) Finalize(ctx context.Context, id int64, subjectNo, cardPath, keyHash string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE users SET subject_no = ?, card_path = ?, unique_key = ? WHERE id = ?",
		subjectNo, cardPath, keyHash, id)
	if err != nil {
		return wrapConstraint(err, "finalize user")
	}
	return nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// ImportReport summarizes an Import.
type ImportReport struct {
	Copied  int
	Skipped []string
}

// Import copies every user of src into s, keeping subject numbers, key
// hashes and timestamps. Users that collide with existing rows, or that lack
// a username or email, are skipped and reported; other failures abort.
// Plain keys from older databases are hashed on the way in.
func (s *Store) Import(ctx context.Context, src *Store) (ImportReport, error) {
	var rep ImportReport
	list, err := src.List(ctx)
	if err != nil {
		return rep, err
	}
	for _, u := range list {
		if u.Username == "" || u.Email == "" {
			log.Warn(log.CatDB, "skipping incomplete user on import", "id", u.ID)
			rep.Skipped = append(rep.Skipped, fmt.Sprintf("#%d", u.ID))
			continue
		}
		if u.Name == "" {
			u.Name = "Anon"
		}
		if u.KeyHash != "" && !isKeyHash(u.KeyHash) {
			u.KeyHash = HashKey(u.KeyHash)
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users (username, name, email, subject_no, unique_key, card_path, created_at, email_sent_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.Username, u.Name, u.Email, nullString(u.SubjectNo), nullString(u.KeyHash),
			nullString(u.CardPath), u.CreatedAt.Unix(), nullTime(u.EmailedAt))
		if err != nil {
			if isUniqueViolation(err) {
				log.Warn(log.CatDB, "skipping user on import", "username", u.Username, "error", err)
				rep.Skipped = append(rep.Skipped, u.Username)
				continue
			}
			return rep, fmt.Errorf("import %s: %w", u.Username, err)
		}
		log.Info(log.CatDB, "imported user", "username", u.Username)
		rep.Copied++
	}
	return rep, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row. Every column but id may be NULL, and timestamps
// may be unix seconds or SQLAlchemy-style text.
func scanUser(sc scanner) (User, error) {
	var (
		u                        User
		username, name, email    sql.NullString
		subjectNo, key, cardPath sql.NullString
		createdAt, emailedAt     any
	)
	if err := sc.Scan(&u.ID, &username, &name, &email, &subjectNo, &key, &cardPath, &createdAt, &emailedAt); err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.Name = name.String
	u.Email = email.String
	u.SubjectNo = subjectNo.String
	u.KeyHash = key.String
	u.CardPath = cardPath.String

	created, err := parseTimestamp(createdAt)
	if err != nil {
		return User{}, fmt.Errorf("created_at of user %d: %w", u.ID, err)
	}
	if created != nil {
		u.CreatedAt = *created
	}
	if u.EmailedAt, err = parseTimestamp(emailedAt); err != nil {
		return User{}, fmt.Errorf("email_sent_at of user %d: %w", u.ID, err)
	}
	return u, nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// parseTimestamp accepts unix seconds, a time the driver already parsed, or
// text in one of timestampLayouts. NULL yields nil.
func parseTimestamp(v any) (*time.Time, error) {
	var t time.Time
	switch v := v.(type) {
	case nil:
		return nil, nil
	case int64:
		t = time.Unix(v, 0)
	case float64:
		t = time.Unix(int64(v), 0)
	case time.Time:
		t = v
	case []byte:
		return parseTimestamp(string(v))
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t = time.Unix(n, 0)
			break
		}
		var err error
		for _, layout := range timestampLayouts {
			if t, err = time.Parse(layout, v); err == nil {
				break
			}
		}
		if err != nil {
			return nil, fmt.Errorf("unrecognized timestamp %q", v)
		}
	default:
		return nil, fmt.Errorf("unsupported timestamp type %T", v)
	}
	t = t.UTC()
	return &t, nil
}

func isKeyHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE
}

func wrapConstraint(err error, op string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
