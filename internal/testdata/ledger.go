package testdata

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
)

// Ledger records credentials generated during a run, one users-file line each.
// A nil Ledger discards records.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// NewLedger returns a ledger appending to path. An empty path disables it.
func NewLedger(path string) *Ledger {
	if path == "" {
		return nil
	}
	return &Ledger{path: path}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes u to the ledger.
func (l *Ledger) Append(u User) error {
	if l == nil {
		return nil
	}
	line, err := FormatUser(u)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// RandomDigits returns n random decimal digits.
func RandomDigits(n int) string {
	buf := make([]byte, n)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(fmt.Sprintf("failed to generate random digit: %v", err))
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf)
}

// NewUsername returns prefix plus random digits, avoiding every name in existing.
func NewUsername(prefix string, existing []string) string {
	taken := make(map[string]bool, len(existing))
	for _, name := range existing {
		taken[name] = true
	}
	for width := 3; ; width++ {
		for attempt := 0; attempt < 20; attempt++ {
			candidate := prefix + RandomDigits(width)
			if !taken[candidate] {
				return candidate
			}
		}
	}
}
