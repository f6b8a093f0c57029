package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// dlqCursor is the decoded form of the opaque pagination cursor used by
// ListDlq — base64 of {failed_at, id}, ordered descending on that pair.
type dlqCursor struct {
	FailedAt time.Time `json:"failed_at"`
	ID       int64     `json:"id"`
}

func encodeDlqCursor(failedAt time.Time, id int64) string {
	b, _ := json.Marshal(dlqCursor{FailedAt: failedAt, ID: id})
	return base64.URLEncoding.EncodeToString(b)
}

func decodeDlqCursor(s string) (*dlqCursor, error) {
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode cursor")
	}
	var c dlqCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal cursor")
	}
	return &c, nil
}
