package auth

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// DecodeJWTPayload returns the claims of token without verifying its
// signature. The header is not inspected, so tokens signed with an
// unknown or missing alg still decode.
func DecodeJWTPayload(token string) (jwt.MapClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, cdlerrors.ErrJSONFormat("Invalid JWT: token contains an invalid number of segments", nil)
	}

	payload, err := jwt.NewParser(jwt.WithPaddingAllowed()).DecodeSegment(parts[1])
	if err != nil {
		return nil, cdlerrors.ErrJSONFormat("Failed to base64 decode JWT: "+err.Error(), err)
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, cdlerrors.ErrJSONFormat("Invalid JSON: "+err.Error(), err)
	}
	return claims, nil
}

// DecodeExp returns the exp claim of token in epoch seconds.
func DecodeExp(token string) (int64, error) {
	claims, err := DecodeJWTPayload(token)
	if err != nil {
		return 0, err
	}
	raw, ok := claims["exp"]
	if !ok {
		return 0, cdlerrors.ErrJSONFormat("No exp field found in payload", nil)
	}

	invalid := cdlerrors.ErrJSONFormat("Expiration time (exp) must be an integer", nil)
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, invalid
		}
		return int64(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), nil
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, invalid
}

// JWTExp returns the cached expiry of the current access token, decoding
// it on first use.
func (c *Credentials) JWTExp() (int64, error) {
	c.mu.RLock()
	exp := c.jwtExp
	c.mu.RUnlock()
	if exp != 0 {
		return exp, nil
	}

	token, err := c.AccessToken()
	if err != nil {
		return 0, err
	}
	if exp, err = DecodeExp(token); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.jwtExp = exp
	c.mu.Unlock()
	return exp, nil
}

// JWTIsExpired reports whether token, or the current access token when
// token is empty, expired more than leeway ago.
func (c *Credentials) JWTIsExpired(token string, leeway time.Duration) (bool, error) {
	var (
		exp int64
		err error
	)
	if token != "" {
		exp, err = DecodeExp(token)
	} else {
		exp, err = c.JWTExp()
	}
	if err != nil {
		return false, err
	}
	now := float64(c.now().UnixNano()) / float64(time.Second)
	return float64(exp) < now-leeway.Seconds(), nil
}
