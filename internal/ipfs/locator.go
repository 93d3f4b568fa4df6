package ipfs

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"

	"marketplace/internal/models"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Scheme is the locator scheme produced by this package
const Scheme = "ipfs"

// NewLocator formats a CID as an ipfs:// locator
func NewLocator(id cid.Cid) models.Locator {
	return models.Locator(Scheme + "://" + id.String())
}

// ParseLocator extracts the CID from a locator. Besides ipfs://<cid> it accepts
// gateway URLs of the form http(s)://host/ipfs/<cid>[/...] and bare CIDs.
func ParseLocator(loc models.Locator) (cid.Cid, error) {
	raw := strings.TrimSpace(loc.String())
	if raw == "" {
		return cid.Undef, fmt.Errorf("%w: empty locator", models.ErrInvalidInput)
	}

	var encoded string
	switch {
	case strings.HasPrefix(raw, Scheme+"://"):
		encoded = strings.TrimPrefix(raw, Scheme+"://")
		encoded = strings.TrimPrefix(encoded, "ipfs/")
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		u, err := url.Parse(raw)
		if err != nil {
			return cid.Undef, fmt.Errorf("%w: locator %q: %v", models.ErrInvalidInput, raw, err)
		}
		idx := strings.Index(u.Path, "/ipfs/")
		if idx < 0 {
			return cid.Undef, fmt.Errorf("%w: locator %q is not an ipfs gateway path", models.ErrInvalidInput, raw)
		}
		encoded = u.Path[idx+len("/ipfs/"):]
	default:
		encoded = raw
	}

	// Drop any path below the root CID
	if slash := strings.Index(encoded, "/"); slash >= 0 {
		encoded = encoded[:slash]
	}

	id, err := cid.Decode(encoded)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: locator %q: %v", models.ErrInvalidInput, raw, err)
	}
	return id, nil
}

// ContentID returns the CIDv1 (raw codec, sha2-256) addressing data
func ContentID(data []byte) (cid.Cid, error) {
	sum := sha256.Sum256(data)
	multihash, err := mh.Encode(sum[:], mh.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, multihash), nil
}
