package storage

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"
)

const (
	maxRevocations = 100000
)

// RevocationList marks individual token ids (jti) as revoked. Entries carry
// the revoked token's own remaining lifetime as TTL, so the list never holds
// a jti longer than the token it belongs to could be presented.
type RevocationList struct {
	cache *ristretto.Cache[string, struct{}]
}

func NewRevocationList() *RevocationList {
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: maxRevocations,
		MaxCost:     maxRevocations,
		BufferItems: 64,
	})

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create revocation list")
	}

	return &RevocationList{
		cache: c,
	}
}

// MarkRevoked inserts a presence marker for jti. TTL is clamped to a minimum
// of one second so an already-expired token never produces a negative TTL.
func (s *RevocationList) MarkRevoked(jti string, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	s.cache.SetWithTTL(jti, struct{}{}, 1, ttl)
	s.cache.Wait()
	return nil
}

func (s *RevocationList) IsRevoked(jti string) (bool, error) {
	_, ok := s.cache.Get(jti)
	return ok, nil
}
