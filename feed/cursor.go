package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cppla/jellyfish/common"
	"github.com/cppla/jellyfish/models"
	"github.com/cppla/jellyfish/store"
)

// EncodeCursor returns the position just after p as "<created unix millis>:<id>".
func EncodeCursor(p models.Post) string {
	return fmt.Sprintf("%d:%d", p.CreatedAt.UnixMilli(), p.ID)
}

// DecodeCursor parses a cursor produced by EncodeCursor. A bare millisecond
// timestamp is accepted too and matches every post created before it.
// An empty string decodes to nil, meaning the newest post.
func DecodeCursor(raw string) (*store.PostCursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	msPart, idPart, hasID := strings.Cut(raw, ":")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return nil, invalidCursor()
	}
	c := &store.PostCursor{CreatedAt: time.UnixMilli(ms).UTC()}
	if hasID {
		id, err := strconv.ParseUint(idPart, 10, 64)
		if err != nil || id == 0 {
			return nil, invalidCursor()
		}
		c.ID = uint(id)
	}
	return c, nil
}

func invalidCursor() error {
	var fe common.FieldErrors
	fe.Add("cursor", "invalid cursor")
	return fe
}
