package pay

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const payloadPrefix = "course:"

// BuildPayload constructs the opaque invoice payload embedding the course id,
// with a random suffix so repeated purchase attempts never collide.
func BuildPayload(courseID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return payloadPrefix + strconv.FormatInt(courseID, 10) + ":" + suffix
}

// ParsePayload extracts the course id embedded in an invoice payload.
// Returns ok=false for anything that does not match course:<id>:<suffix>;
// callers are expected to fall back to price matching in that case.
func ParsePayload(payload string) (int64, bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(payload), payloadPrefix)
	if !found {
		return 0, false
	}
	idPart, _, found := strings.Cut(rest, ":")
	if !found {
		idPart = rest
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
