package authz

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrNoSuperuserSource is returned by Refresh when no source was configured.
var ErrNoSuperuserSource = errors.New("no superuser source configured")

// SuperuserSource returns the current allowlist, typically read from process
// configuration.
type SuperuserSource func() ([]string, error)

// Superusers is the allowlist of emails that bypass grant checks. Emails are
// compared trimmed and case-insensitively. It is safe for concurrent use;
// Reload replaces the whole list atomically.
type Superusers struct {
	emails atomic.Pointer[mapset.Set[string]]
	source SuperuserSource
}

// NewSuperusers creates an allowlist from emails.
func NewSuperusers(emails []string) *Superusers {
	s := &Superusers{}
	s.Reload(emails)
	return s
}

// NewSuperusersFromSource creates an allowlist loaded from src. Refresh
// re-reads src.
func NewSuperusersFromSource(src SuperuserSource) (*Superusers, error) {
	s := &Superusers{source: src}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the allowlist.
func (s *Superusers) Reload(emails []string) {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			set.Add(e)
		}
	}
	s.emails.Store(&set)
}

// Refresh re-reads the allowlist from the configured source. On error the
// current list is kept.
func (s *Superusers) Refresh() error {
	if s.source == nil {
		return ErrNoSuperuserSource
	}
	emails, err := s.source()
	if err != nil {
		return err
	}
	s.Reload(emails)
	return nil
}

// Contains reports whether email is a superuser. A nil allowlist contains nobody.
func (s *Superusers) Contains(email string) bool {
	if s == nil {
		return false
	}
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	set := s.emails.Load()
	return set != nil && (*set).Contains(email)
}

// Emails returns the normalized allowlist in lexical order.
func (s *Superusers) Emails() []string {
	if s == nil {
		return nil
	}
	set := s.emails.Load()
	if set == nil {
		return nil
	}
	out := (*set).ToSlice()
	sort.Strings(out)
	return out
}

// ParseEmailList splits a comma or whitespace separated list of emails.
func ParseEmailList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = normalizeEmail(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
