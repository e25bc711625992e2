package core

import (
	"strings"

	"github.com/vortexdata/vortex/pkg/errors"
)

// ContinuationToken is the decoded form of the opaque extraction cursor.
// Callers outside the producing connector must treat the encoded string
// as opaque and replay it verbatim; only the connector that minted a
// token may parse it, and only for the same target structure.
//
// Wire forms:
//
//	target|trackingField|value   tracking-field cursor
//	target|offset                row-offset cursor
type ContinuationToken struct {
	Target        string
	TrackingField string
	Value         string
}

const tokenSep = "|"

// IsOffset reports whether the token is a row-offset cursor.
func (t ContinuationToken) IsOffset() bool { return t.TrackingField == "" }

// Encode renders the wire form.
func (t ContinuationToken) Encode() string {
	if t.IsOffset() {
		return t.Target + tokenSep + t.Value
	}
	return t.Target + tokenSep + t.TrackingField + tokenSep + t.Value
}

// DecodeToken parses a continuation token string.
func DecodeToken(raw string) (ContinuationToken, error) {
	parts := strings.Split(raw, tokenSep)
	switch len(parts) {
	case 2:
		if parts[0] == "" {
			return ContinuationToken{}, errors.New(errors.ErrorTypeExtraction, "continuation token has empty target")
		}
		return ContinuationToken{Target: parts[0], Value: parts[1]}, nil
	case 3:
		if parts[0] == "" || parts[1] == "" {
			return ContinuationToken{}, errors.New(errors.ErrorTypeExtraction, "continuation token has empty segment")
		}
		return ContinuationToken{Target: parts[0], TrackingField: parts[1], Value: parts[2]}, nil
	default:
		return ContinuationToken{}, errors.Newf(errors.ErrorTypeExtraction, "malformed continuation token %q", raw)
	}
}

// DecodeTokenFor parses a token and checks it was minted for the given
// target structure. A token is only valid for the (connector, target)
// pair that produced it.
func DecodeTokenFor(raw, target string) (ContinuationToken, error) {
	tok, err := DecodeToken(raw)
	if err != nil {
		return ContinuationToken{}, err
	}
	if !strings.EqualFold(tok.Target, target) {
		return ContinuationToken{}, errors.Newf(errors.ErrorTypeExtraction,
			"continuation token was issued for structure %q, not %q", tok.Target, target)
	}
	return tok, nil
}
