package scope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// ErrNoBuilding means a resolver found nothing; the chain moves on.
var ErrNoBuilding = errors.New("no building in request")

// maxBuildingIDLen bounds explicit building ids.
const maxBuildingIDLen = 64

var buildingIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Resolver resolves the building id from an HTTP request. It returns
// ErrNoBuilding when it has nothing to say; any other error aborts
// resolution.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (string, error)

// Resolve calls f(r).
func (f ResolverFunc) Resolve(r *http.Request) (string, error) { return f(r) }

// Chain tries each resolver in order.
type Chain []Resolver

// NewChain returns a Chain of rs.
func NewChain(rs ...Resolver) Chain {
	return Chain(rs)
}

// Resolve returns the first building found, or ErrBuildingContextRequired.
func (c Chain) Resolve(r *http.Request) (string, error) {
	for _, res := range c {
		id, err := res.Resolve(r)
		if errors.Is(err, ErrNoBuilding) {
			continue
		}
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", ErrBuildingContextRequired
}

// DefaultQueryParams are the query parameters read by QueryResolver.
var DefaultQueryParams = []string{"buildingId", "building"}

// QueryResolver reads the building id from the query string.
type QueryResolver struct {
	// Params are checked in order. Defaults to DefaultQueryParams.
	Params []string
}

// Resolve extracts the building id from the first non-empty parameter.
func (q QueryResolver) Resolve(r *http.Request) (string, error) {
	params := q.Params
	if len(params) == 0 {
		params = DefaultQueryParams
	}
	values := r.URL.Query()
	for _, p := range params {
		if id := strings.TrimSpace(values.Get(p)); id != "" {
			if err := ValidateBuildingID(id); err != nil {
				return "", err
			}
			return id, nil
		}
	}
	return "", ErrNoBuilding
}

// DefaultMaxBodyBytes caps how much of a request body BodyResolver buffers.
const DefaultMaxBodyBytes = 1 << 20

// BodyResolver reads a building id field from a JSON body on write requests.
// The body is restored so the handler can read it again.
type BodyResolver struct {
	// Field defaults to "buildingId".
	Field string
	// MaxBytes defaults to DefaultMaxBodyBytes. Larger bodies are skipped.
	MaxBytes int64
}

// Resolve extracts the building id from the request body.
func (b BodyResolver) Resolve(r *http.Request) (string, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return "", ErrNoBuilding
	}
	if r.Body == nil || r.Body == http.NoBody {
		return "", ErrNoBuilding
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "json") {
		return "", ErrNoBuilding
	}

	field := b.Field
	if field == "" {
		field = "buildingId"
	}
	limit := b.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read request body: %w", err)
	}
	if int64(len(buf)) > limit {
		r.Body = readCloser{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
		return "", ErrNoBuilding
	}
	r.Body = readCloser{bytes.NewReader(buf), r.Body}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf, &fields); err != nil {
		return "", ErrNoBuilding
	}
	raw, ok := fields[field]
	if !ok {
		return "", ErrNoBuilding
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || strings.TrimSpace(id) == "" {
		return "", ErrNoBuilding
	}
	id = strings.TrimSpace(id)
	if err := ValidateBuildingID(id); err != nil {
		return "", err
	}
	return id, nil
}

// readCloser replays buffered bytes while closing the original body.
type readCloser struct {
	io.Reader
	io.Closer
}

// ValidateBuildingID checks that an explicit building id is well formed.
func ValidateBuildingID(id string) error {
	if len(id) > maxBuildingIDLen || !buildingIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidBuildingID, id)
	}
	return nil
}
