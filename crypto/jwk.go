package crypto

import (
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// JWK field values accepted for interchange public keys. Anything else
// is rejected at the boundary rather than at point of use.
const (
	jwkKeyType = "EC"
	jwkCurve   = "P-256"

	coordinateSize = 32
)

// PublicKey is the JWK interchange form of an ECDH P-256 public key:
// explicit key type, curve and base64url-encoded coordinates.
type PublicKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// PublicKeyFromECDH converts a P-256 public key into interchange form.
func PublicKeyFromECDH(pub *ecdh.PublicKey) (PublicKey, error) {
	raw := pub.Bytes()
	// Uncompressed point encoding: 0x04 || X || Y.
	if len(raw) != 1+2*coordinateSize || raw[0] != 0x04 {
		return PublicKey{}, fmt.Errorf("unexpected public key encoding: %d bytes", len(raw))
	}

	return PublicKey{
		Kty: jwkKeyType,
		Crv: jwkCurve,
		X:   base64.RawURLEncoding.EncodeToString(raw[1 : 1+coordinateSize]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[1+coordinateSize:]),
	}, nil
}

// ParsePublicKeyJWK decodes and validates a JWK public key. Malformed
// input, an unexpected key type or curve, or an off-curve point all
// fail here, before the key can reach any cryptographic operation.
func ParsePublicKeyJWK(data []byte) (PublicKey, error) {
	var pk PublicKey
	if err := json.Unmarshal(data, &pk); err != nil {
		return PublicKey{}, fmt.Errorf("malformed JWK: %w", err)
	}

	if _, err := pk.ECDH(); err != nil {
		return PublicKey{}, err
	}
	return pk, nil
}

// MarshalJWK encodes the public key in JWK form.
func (pk PublicKey) MarshalJWK() ([]byte, error) {
	return json.Marshal(pk)
}

// Validate checks the key type, curve and coordinate encoding without
// performing the on-curve check.
func (pk PublicKey) Validate() error {
	if pk.Kty != jwkKeyType {
		return fmt.Errorf("unsupported key type %q (expected %q)", pk.Kty, jwkKeyType)
	}
	if pk.Crv != jwkCurve {
		return fmt.Errorf("unsupported curve %q (expected %q)", pk.Crv, jwkCurve)
	}

	for _, coord := range []struct {
		name  string
		value string
	}{{"x", pk.X}, {"y", pk.Y}} {
		raw, err := base64.RawURLEncoding.DecodeString(coord.value)
		if err != nil {
			return fmt.Errorf("invalid %s coordinate: %w", coord.name, err)
		}
		if len(raw) != coordinateSize {
			return fmt.Errorf("invalid %s coordinate length: %d bytes (expected %d)",
				coord.name, len(raw), coordinateSize)
		}
	}
	return nil
}

// ECDH converts the interchange form back into a usable P-256 public
// key, rejecting points that are not on the curve.
func (pk PublicKey) ECDH() (*ecdh.PublicKey, error) {
	if err := pk.Validate(); err != nil {
		return nil, err
	}

	x, _ := base64.RawURLEncoding.DecodeString(pk.X)
	y, _ := base64.RawURLEncoding.DecodeString(pk.Y)

	raw := make([]byte, 0, 1+2*coordinateSize)
	raw = append(raw, 0x04)
	raw = append(raw, x...)
	raw = append(raw, y...)

	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid P-256 point: %w", err)
	}
	return pub, nil
}

// Fingerprint returns a stable hex-encoded SHA-256 digest of the key's
// interchange fields, suitable for device pinning and log previews.
func (pk PublicKey) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(pk.Kty))
	h.Write([]byte(pk.Crv))
	h.Write([]byte(pk.X))
	h.Write([]byte(pk.Y))
	return hex.EncodeToString(h.Sum(nil))
}

// IsZero reports whether the key is the zero value (unset).
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}
