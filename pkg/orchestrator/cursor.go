package orchestrator

import (
	"encoding/base64"
	"encoding/json"

	"github.com/cuemby/shardbroker/pkg/types"
)

// cursorEncodings are tried in order when decoding, since §6 requires
// decoders tolerate both standard and URL-safe base64, padded or not.
var cursorEncodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.StdEncoding,
}

// decodeCursor parses the opaque pagination cursor (spec §4.7), defaulting
// to offset 0 for an empty or malformed cursor.
func decodeCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	for _, enc := range cursorEncodings {
		raw, err := enc.DecodeString(cursor)
		if err != nil {
			continue
		}
		var c types.Cursor
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		if c.Offset < 0 {
			return 0
		}
		return c.Offset
	}
	return 0
}

// encodeCursor produces the opaque base64_url(json({offset})) cursor for
// the next page, per §6's canonical cursor format.
func encodeCursor(offset int) string {
	raw, _ := json.Marshal(types.Cursor{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}
