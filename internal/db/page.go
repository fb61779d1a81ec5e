package db

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sparkq/sparkq/internal/errs"
)

// cursorKey signs pagination cursors for the lifetime of this process. It
// is generated fresh at startup rather than persisted, so a cursor minted
// by one process is never replayable against another — acceptable since
// cursors are meant to chain through pages of a single live listing, not
// to survive a restart.
var cursorKey = func() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("failed to seed pagination cursor key: %v", err))
	}
	return key
}()

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// SortableFields is the whitelist of sort_by values the pagination contract
// allows (§4.B); anything else fails validation rather than being ignored.
var SortableFields = map[string]bool{
	"created_at":  true,
	"started_at":  true,
	"finished_at": true,
	"status":      true,
	"queue_name":  true,
}

// PageParams is the parsed, validated form of a list request's pagination
// inputs. Offset and Cursor are mutually exclusive by construction: exactly
// one of UseCursor or (Offset set) applies.
type PageParams struct {
	Limit     int
	Offset    int
	Cursor    string
	UseCursor bool
	SortBy    string
	SortDir   string
}

// ParsePageParams validates raw query inputs against the pagination
// contract, rejecting anything out of range instead of clamping it.
func ParsePageParams(rawLimit string, rawOffset string, rawCursor string, sortBy string, sortDir string) (*PageParams, error) {
	p := &PageParams{Limit: DefaultPageLimit, SortDir: "desc"}

	if rawLimit != "" {
		n, err := parseNonNegativeInt(rawLimit)
		if err != nil || n == 0 || n > MaxPageLimit {
			return nil, errs.Validationf("INVALID_LIMIT", "limit must be between 1 and %d", MaxPageLimit)
		}
		p.Limit = n
	}

	hasOffset := rawOffset != ""
	hasCursor := rawCursor != ""
	if hasOffset && hasCursor {
		return nil, errs.Validationf("OFFSET_AND_CURSOR", "offset and cursor are mutually exclusive")
	}
	if hasOffset {
		n, err := parseNonNegativeInt(rawOffset)
		if err != nil {
			return nil, errs.Validationf("INVALID_OFFSET", "offset must be a non-negative integer")
		}
		p.Offset = n
	}
	if hasCursor {
		p.Cursor = rawCursor
		p.UseCursor = true
	}

	if sortBy != "" {
		if !SortableFields[sortBy] {
			return nil, errs.Validationf("INVALID_SORT_BY", "sort_by %q is not a recognized sort key", sortBy)
		}
		p.SortBy = sortBy
	} else {
		p.SortBy = "created_at"
	}

	switch sortDir {
	case "", "desc":
		p.SortDir = "desc"
	case "asc":
		p.SortDir = "asc"
	default:
		return nil, errs.Validationf("INVALID_SORT_DIR", "sort_dir must be \"asc\" or \"desc\"")
	}

	return p, nil
}

func parseNonNegativeInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %q", s)
	}
	return n, nil
}

// Fingerprint derives a stable hash of the active sort+filter set, so a
// cursor minted under one filter combination is rejected if replayed
// against another. Filter keys are sorted before joining since Go
// randomizes map iteration order per range — an unsorted join would make
// the same filter set hash differently across calls.
func Fingerprint(sortBy, sortDir string, filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{sortBy, sortDir}
	for _, k := range keys {
		parts = append(parts, k+"="+filters[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

type cursorPayload struct {
	SortValue   string `json:"v"`
	ID          string `json:"id"`
	Fingerprint string `json:"fp"`
}

// EncodeCursor produces an opaque, HMAC-signed token carrying the sort
// value, the id tie-breaker, and the active fingerprint.
func EncodeCursor(key []byte, sortValue, id, fingerprint string) string {
	payload, _ := json.Marshal(cursorPayload{SortValue: sortValue, ID: id, Fingerprint: fingerprint})
	body := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(body))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return body + "." + sig
}

// DecodeCursor verifies the signature and fingerprint before handing back
// the sort value and id tie-breaker a List query should resume after.
// A tampered, stale, or filter-mismatched cursor fails as BadCursor.
func DecodeCursor(key []byte, token, expectedFingerprint string) (sortValue, id string, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", "", errs.Validationf("BAD_CURSOR", "cursor is malformed")
	}
	body, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(body))
	wantSig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(wantSig)) {
		return "", "", errs.Validationf("BAD_CURSOR", "cursor signature is invalid")
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", "", errs.Validationf("BAD_CURSOR", "cursor is malformed")
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", errs.Validationf("BAD_CURSOR", "cursor is malformed")
	}
	if payload.Fingerprint != expectedFingerprint {
		return "", "", errs.Validationf("BAD_CURSOR", "cursor does not match the active sort and filters")
	}
	return payload.SortValue, payload.ID, nil
}

// Page wraps a list result with the pagination envelope §4.B requires.
type Page[T any] struct {
	Items      []T    `json:"items"`
	Limit      int    `json:"limit"`
	Offset     *int   `json:"offset,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
	TotalCount *int64 `json:"total_count,omitempty"`
	Truncated  bool   `json:"truncated"`
	MaxLimit   int    `json:"max_limit,omitempty"`
}
