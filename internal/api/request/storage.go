package request

import "time"

// DefaultSignedURLTTL applies when ttl_seconds is omitted.
const DefaultSignedURLTTL = 15 * time.Minute

type SignedURL struct {
	Key        string `json:"key" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=1,max=604800"`
}

// TTL returns the requested lifetime, or the default.
func (r SignedURL) TTL() time.Duration {
	if r.TTLSeconds == 0 {
		return DefaultSignedURLTTL
	}
	return time.Duration(r.TTLSeconds) * time.Second
}
