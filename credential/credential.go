// Package credential encodes and validates the scannable ticket
// credential string: "TICKET-{ticketId}-{eventId}-{epochMillis}-{checksum}".
package credential

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	tag       = "TICKET"
	delimiter = "-"
	partCount = 5
)

// ErrMalformed is returned when a scanned string is not a structurally
// valid credential. It is rejected before any storage access.
var ErrMalformed = errors.New("malformed credential")

var formatPattern = regexp.MustCompile(`^TICKET-[^-]+-[^-]+-\d+-[0-9A-Z]+$`)

// Credential is the decoded content of a scanned string. The checksum
// covers the owner id as well, which is not embedded on the wire, so
// full verification happens against the stored ticket row.
type Credential struct {
	TicketID string
	EventID  string
	IssuedAt int64 // epoch millis
	Checksum string
}

// Encode stamps the current time and emits the credential string for a
// ticket. Ticket and event ids must not contain the delimiter.
func Encode(ticketID, eventID, ownerID string) string {
	issuedAt := time.Now().UnixMilli()
	sum := Checksum(ticketID, eventID, ownerID, issuedAt)
	return strings.Join([]string{tag, ticketID, eventID, strconv.FormatInt(issuedAt, 10), sum}, delimiter)
}

// Decode splits a scanned string into its parts. It fails with
// ErrMalformed when the part count or literal tag is wrong, or when the
// epoch field is not an integer.
func Decode(raw string) (Credential, error) {
	parts := strings.Split(raw, delimiter)
	if len(parts) != partCount {
		return Credential{}, fmt.Errorf("%w: expected %d parts, got %d", ErrMalformed, partCount, len(parts))
	}
	if parts[0] != tag {
		return Credential{}, fmt.Errorf("%w: bad tag %q", ErrMalformed, parts[0])
	}
	issuedAt, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, parts[3])
	}
	if parts[1] == "" || parts[2] == "" || parts[4] == "" {
		return Credential{}, fmt.Errorf("%w: empty field", ErrMalformed)
	}
	return Credential{
		TicketID: parts[1],
		EventID:  parts[2],
		IssuedAt: issuedAt,
		Checksum: parts[4],
	}, nil
}

// ValidateFormat is a cheap structural pre-filter used before any I/O.
func ValidateFormat(raw string) bool {
	return formatPattern.MatchString(raw)
}

// Checksum computes the deterministic rolling hash over the four
// credential inputs, rendered in upper-case base36.
func Checksum(ticketID, eventID, ownerID string, issuedAt int64) string {
	input := ticketID + eventID + ownerID + strconv.FormatInt(issuedAt, 10)
	var hash uint32
	for _, r := range input {
		hash = hash*31 + uint32(r)
	}
	return strings.ToUpper(strconv.FormatUint(uint64(hash), 36))
}

// Verify re-derives the checksum from stored ticket fields and compares
// it to the decoded one.
func Verify(c Credential, ownerID string) bool {
	return Checksum(c.TicketID, c.EventID, ownerID, c.IssuedAt) == c.Checksum
}
