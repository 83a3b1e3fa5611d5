package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const defaultKeyTTL = 5 * time.Minute

// jsonWebKey is one entry of a JWKS document. Only RSA keys are used.
type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet resolves token signing keys by kid from a remote JWKS endpoint.
// Keys expire after ttl; an unknown kid triggers one refetch shared by all
// concurrent callers. With no url but an issuer, the url is found through
// OIDC discovery on first use.
type KeySet struct {
	url    string
	issuer string
	ttl    time.Duration
	client *http.Client
	keys   *ttlcache.Cache[string, *rsa.PublicKey]
	fetch  singleflight.Group
}

func NewKeySet(jwksURL string, ttl time.Duration) *KeySet {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &KeySet{
		url:    jwksURL,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   ttlcache.New[string, *rsa.PublicKey](ttlcache.WithDisableTouchOnHit[string, *rsa.PublicKey]()),
	}
}

// Key returns the public key for kid.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if item := s.keys.Get(kid); item != nil {
		return item.Value(), nil
	}
	if _, err, _ := s.fetch.Do("jwks", func() (any, error) {
		return nil, s.refresh(ctx)
	}); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	if item := s.keys.Get(kid); item != nil {
		return item.Value(), nil
	}
	return nil, fmt.Errorf("key %q not found in JWKS", kid)
}

func (s *KeySet) refresh(ctx context.Context) error {
	if s.url == "" && s.issuer != "" {
		url, err := DiscoverJWKS(ctx, s.issuer)
		if err != nil {
			return err
		}
		s.url = url
	}
	if s.url == "" {
		return fmt.Errorf("no JWKS url configured")
	}
	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := s.getJSON(ctx, s.url, &doc); err != nil {
		return err
	}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			continue
		}
		s.keys.Set(k.Kid, pub, s.ttl)
	}
	return nil
}

func (s *KeySet) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Keyfunc adapts the set to jwt.ParseWithClaims.
func (s *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return s.Key(ctx, kid)
	}
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// DiscoverJWKS reads issuer/.well-known/openid-configuration and returns
// its jwks_uri.
func DiscoverJWKS(ctx context.Context, issuer string) (string, error) {
	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	s := &KeySet{client: &http.Client{Timeout: 10 * time.Second}}
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	if err := s.getJSON(ctx, url, &doc); err != nil {
		return "", fmt.Errorf("oidc discovery: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("oidc discovery: document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}
