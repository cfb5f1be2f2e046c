package util

import "time"

// ISOTimeLayout matches JavaScript's Date.prototype.toISOString output,
// which the mobile client parses.
const ISOTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func ISOTime(t time.Time) string {
	return t.UTC().Format(ISOTimeLayout)
}

// ISOTimePtr formats t, or returns nil for a nil time.
func ISOTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := ISOTime(*t)
	return &s
}
