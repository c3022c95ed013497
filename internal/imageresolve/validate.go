package imageresolve

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/fetch"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const (
	// MaxImageBytes caps image downloads.
	MaxImageBytes = 10 << 20
	// minDataURIBytes separates real inline images from tracking pixels.
	minDataURIBytes = 1024
)

var (
	// ErrRejected marks a candidate that failed validation.
	ErrRejected = errors.New("image rejected")
	// ErrDuplicateImage marks a candidate already used by another article.
	ErrDuplicateImage = errors.New("image already used by another article")
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// HashStore looks up fingerprints registered by earlier runs.
type HashStore interface {
	ImageHashOwner(ctx context.Context, hash string) (string, error)
}

// HashRegistry tracks which article owns each image fingerprint. It is
// scoped to a run and falls back to the persisted table when set.
type HashRegistry struct {
	mu     sync.Mutex
	owners map[string]string
	store  HashStore
}

// NewHashRegistry creates a registry. store may be nil.
func NewHashRegistry(store HashStore) *HashRegistry {
	return &HashRegistry{owners: make(map[string]string), store: store}
}

// Claim assigns the hashes to link unless one is already owned by a
// different link, in which case it returns false and claims nothing.
func (r *HashRegistry) Claim(ctx context.Context, link string, hashes ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range hashes {
		if h == "" {
			continue
		}
		if owner, ok := r.owners[h]; ok && owner != link {
			return false
		}
		if r.store != nil {
			// A failed lookup does not block the image.
			owner, err := r.store.ImageHashOwner(ctx, h)
			if err == nil && owner != link {
				return false
			}
		}
	}
	for _, h := range hashes {
		if h != "" {
			r.owners[h] = link
		}
	}
	return true
}

// Owner returns the run-local owner of a hash.
func (r *HashRegistry) Owner(hash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[hash]
	return owner, ok
}

// Validator downloads and checks candidate images.
type Validator struct {
	fetcher  *fetch.Fetcher
	registry *HashRegistry
}

// NewValidator creates a validator. registry may be nil to skip the
// cross-article duplicate check.
func NewValidator(fetcher *fetch.Fetcher, registry *HashRegistry) *Validator {
	return &Validator{fetcher: fetcher, registry: registry}
}

type validateOpts struct {
	profile   *Profile
	userAgent string
	// shared images (stock art) may be used by many articles.
	shared bool
}

// Validate checks that candidate is a real, large enough image not used by
// another article, and returns its measurements.
func (v *Validator) Validate(ctx context.Context, candidate, link string, opts validateOpts) (model.Validation, error) {
	profile := opts.profile
	if profile == nil {
		profile = GenericProfile
	}

	var data []byte
	if strings.HasPrefix(candidate, "data:") {
		decoded, err := decodeDataURI(candidate)
		if err != nil {
			return model.Validation{}, err
		}
		data = decoded
	} else {
		u, err := url.Parse(candidate)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return model.Validation{}, fmt.Errorf("%w: unsupported url %q", ErrRejected, candidate)
		}
		if profile.Blocked(candidate) {
			return model.Validation{}, fmt.Errorf("%w: blacklisted %s", ErrRejected, candidate)
		}
		data, _, err = v.fetcher.Download(ctx, candidate, opts.userAgent, MaxImageBytes)
		if err != nil {
			return model.Validation{}, err
		}
	}

	val, err := Inspect(data)
	if err != nil {
		return val, err
	}

	minW, minH := profile.MinWidth, profile.MinHeight
	if minW == 0 && minH == 0 {
		minW, minH = GenericProfile.MinWidth, GenericProfile.MinHeight
	}
	if val.Width < minW || val.Height < minH {
		return val, fmt.Errorf("%w: %dx%d below %dx%d", ErrRejected, val.Width, val.Height, minW, minH)
	}

	if !opts.shared && v.registry != nil {
		if !v.registry.Claim(ctx, link, val.PHash, val.SHA256) {
			val.Duplicate = true
			return val, ErrDuplicateImage
		}
	}
	return val, nil
}

// Inspect sniffs, decodes and fingerprints raw image bytes.
func Inspect(data []byte) (model.Validation, error) {
	val := model.Validation{Bytes: len(data)}
	if len(data) == 0 {
		return val, fmt.Errorf("%w: empty body", ErrRejected)
	}

	mt := mimetype.Detect(data)
	val.MIME = mt.String()
	if i := strings.IndexByte(val.MIME, ';'); i >= 0 {
		val.MIME = val.MIME[:i]
	}
	if !allowedMIME[val.MIME] {
		return val, fmt.Errorf("%w: content is %s", ErrRejected, val.MIME)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return val, fmt.Errorf("%w: decode: %v", ErrRejected, err)
	}
	b := img.Bounds()
	val.Width, val.Height = b.Dx(), b.Dy()
	val.PHash = DHash(img)

	sum := sha256.Sum256(data)
	val.SHA256 = hex.EncodeToString(sum[:])
	return val, nil
}

// DHash is a 64-bit difference hash: the image is reduced to 9x8 grey
// levels and each bit records whether a pixel is brighter than its right
// neighbour.
func DHash(img image.Image) string {
	small := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var hash uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if small.GrayAt(x, y).Y > small.GrayAt(x+1, y).Y {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return fmt.Sprintf("%016x", hash)
}

func decodeDataURI(s string) ([]byte, error) {
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data uri", ErrRejected)
	}
	meta, payload := s[len("data:"):comma], s[comma+1:]
	if !strings.HasPrefix(meta, "image/") || strings.HasPrefix(meta, "image/svg") {
		return nil, fmt.Errorf("%w: data uri is %q", ErrRejected, meta)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: non-base64 data uri", ErrRejected)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: data uri: %v", ErrRejected, err)
	}
	if len(data) < minDataURIBytes {
		return nil, fmt.Errorf("%w: tracking pixel data uri", ErrRejected)
	}
	return data, nil
}

// DataURI encodes PNG bytes as an inline image URL.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
