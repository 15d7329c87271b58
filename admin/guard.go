package admin

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Guard admits or rejects requests for a capability. Rejected requests get 403.
//
// Allow must be fast and must not block or do I/O.
type Guard interface {
	Allow(c *gin.Context) bool
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(c *gin.Context) bool

func (f GuardFunc) Allow(c *gin.Context) bool { return f(c) }

func guardMiddleware(g Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Allow(c) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// DenyAll rejects every request.
func DenyAll() Guard { return GuardFunc(func(*gin.Context) bool { return false }) }

// AllowAll admits every request.
func AllowAll() Guard { return GuardFunc(func(*gin.Context) bool { return true }) }

// DefaultTokenHeader is the header token guards read unless configured otherwise.
const DefaultTokenHeader = "X-Peon-Token"

// TokenSet is a hot-updatable token set. The zero value denies everything.
//
// Contains is lock-free; Update swaps the whole set atomically.
type TokenSet struct {
	tokens atomic.Pointer[[]string]
}

// NewTokenSet returns a set holding tokens.
func NewTokenSet(tokens ...string) *TokenSet {
	s := &TokenSet{}
	s.Update(tokens)
	return s
}

// Update replaces the set. Blank tokens are ignored; an empty set denies everything.
func (s *TokenSet) Update(tokens []string) {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	s.tokens.Store(&out)
}

// Len reports how many tokens are accepted.
func (s *TokenSet) Len() int {
	p := s.tokens.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}

// Contains reports whether token is accepted. It compares against every entry in constant
// time per entry.
func (s *TokenSet) Contains(token string) bool {
	p := s.tokens.Load()
	if p == nil || token == "" {
		return false
	}
	ok := false
	for _, t := range *p {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			ok = true
		}
	}
	return ok
}

// Tokens admits requests whose header carries a token in set. An empty header name means
// DefaultTokenHeader. It panics if set is nil.
func Tokens(header string, set *TokenSet) Guard {
	if set == nil {
		panic("admin: Tokens: nil token set")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultTokenHeader
	}
	return GuardFunc(func(c *gin.Context) bool {
		return set.Contains(c.GetHeader(header))
	})
}

// IPAllowList admits requests whose client IP (gin's ClientIP, honoring trusted proxies) is
// in one of the prefixes or addresses. Invalid entries are ignored; none left denies all.
func IPAllowList(cidrsOrIPs ...string) Guard {
	var prefixes []netip.Prefix
	for _, s := range cidrsOrIPs {
		s = strings.TrimSpace(s)
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
		}
	}
	return GuardFunc(func(c *gin.Context) bool {
		a, err := netip.ParseAddr(c.ClientIP())
		if err != nil {
			return false
		}
		a = a.Unmap()
		for _, p := range prefixes {
			if p.Contains(a) {
				return true
			}
		}
		return false
	})
}

// Any admits a request when at least one guard admits it.
func Any(guards ...Guard) Guard {
	return GuardFunc(func(c *gin.Context) bool {
		for _, g := range guards {
			if g != nil && g.Allow(c) {
				return true
			}
		}
		return false
	})
}
