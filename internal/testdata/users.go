// Package testdata loads the test account records and stages the image files
// the upload scenarios need.
//
// The users file holds one record per line:
//
//	username: admin, password: admin, first_name: Administrator, last_name: Manager, role: admin, expect: accept
//
// Blank lines and lines starting with # are ignored.
package testdata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Expectation says how the site should treat a record's credentials.
type Expectation string

const (
	ExpectAccept Expectation = "accept"
	ExpectReject Expectation = "reject"
)

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is one test account record.
type User struct {
	Username        string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	Role            string
	Expect          Expectation
	Line            int
}

// FullName is the "first last" pair the welcome banner greets with.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Valid reports whether the site should accept these credentials.
func (u User) Valid() bool {
	return u.Expect == ExpectAccept
}

// Users is the read-only set of records loaded for a run.
type Users struct {
	records []User
}

var knownKeys = map[string]bool{
	"username":         true,
	"password":         true,
	"confirm_password": true,
	"first_name":       true,
	"last_name":        true,
	"role":             true,
	"expect":           true,
}

// LoadUsers reads a users file.
func LoadUsers(path string) (*Users, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	users, err := ParseUsers(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return users, nil
}

// ParseUsers parses records from r.
func ParseUsers(r io.Reader) (*Users, error) {
	scanner := bufio.NewScanner(r)
	var records []User
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		u.Line = lineNo
		records = append(records, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	return &Users{records: records}, nil
}

func parseRecord(line string) (User, error) {
	fields := map[string]string{}
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			return User{}, fmt.Errorf("field %q is not key: value", part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !knownKeys[key] {
			return User{}, fmt.Errorf("unknown key %q", key)
		}
		if _, dup := fields[key]; dup {
			return User{}, fmt.Errorf("duplicate key %q", key)
		}
		fields[key] = strings.TrimSpace(value)
	}

	u := User{
		Username:        fields["username"],
		Password:        fields["password"],
		ConfirmPassword: fields["confirm_password"],
		FirstName:       fields["first_name"],
		LastName:        fields["last_name"],
		Role:            strings.ToLower(fields["role"]),
		Expect:          Expectation(strings.ToLower(fields["expect"])),
	}
	if u.Username == "" {
		return User{}, fmt.Errorf("username is required")
	}
	if u.Password == "" {
		return User{}, fmt.Errorf("password is required")
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Role != RoleAdmin && u.Role != RoleUser {
		return User{}, fmt.Errorf("role must be admin or user, got %q", u.Role)
	}
	switch u.Expect {
	case "":
		u.Expect = ExpectAccept
	case ExpectAccept, ExpectReject:
	default:
		return User{}, fmt.Errorf("expect must be accept or reject, got %q", u.Expect)
	}
	if u.ConfirmPassword == "" {
		u.ConfirmPassword = u.Password
	}
	return u, nil
}

// All returns every record in file order.
func (s *Users) All() []User {
	return append([]User(nil), s.records...)
}

// Valid returns the records the site should accept.
func (s *Users) Valid() []User {
	return s.filter(func(u User) bool { return u.Valid() })
}

// Invalid returns the records the site should reject.
func (s *Users) Invalid() []User {
	return s.filter(func(u User) bool { return !u.Valid() })
}

// ByRole returns the accepted records with the given role.
func (s *Users) ByRole(role string) []User {
	return s.filter(func(u User) bool { return u.Valid() && u.Role == role })
}

// Lookup returns the first accepted record for username.
func (s *Users) Lookup(username string) (User, bool) {
	for _, u := range s.records {
		if u.Username == username && u.Valid() {
			return u, true
		}
	}
	return User{}, false
}

// Usernames returns the distinct usernames of accepted records, sorted.
func (s *Users) Usernames() []string {
	seen := map[string]bool{}
	var names []string
	for _, u := range s.Valid() {
		if !seen[u.Username] {
			seen[u.Username] = true
			names = append(names, u.Username)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Users) filter(keep func(User) bool) []User {
	var out []User
	for _, u := range s.records {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out
}

// FormatUser renders u as a users-file line. Values the format cannot carry
// back (commas, line breaks, surrounding blanks) are rejected.
func FormatUser(u User) (string, error) {
	if u.Username == "" || u.Password == "" {
		return "", fmt.Errorf("username and password are required")
	}
	fields := [][2]string{
		{"username", u.Username},
		{"password", u.Password},
	}
	if u.ConfirmPassword != "" && u.ConfirmPassword != u.Password {
		fields = append(fields, [2]string{"confirm_password", u.ConfirmPassword})
	}
	for _, f := range [][2]string{
		{"first_name", u.FirstName},
		{"last_name", u.LastName},
		{"role", u.Role},
		{"expect", string(u.Expect)},
	} {
		if f[1] != "" {
			fields = append(fields, f)
		}
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.ContainsAny(f[1], ",\r\n") || strings.TrimSpace(f[1]) != f[1] {
			return "", fmt.Errorf("%s %q cannot be written to a users file", f[0], f[1])
		}
		parts = append(parts, f[0]+": "+f[1])
	}
	return strings.Join(parts, ", "), nil
}
