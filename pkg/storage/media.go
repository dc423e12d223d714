package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const mediaPrefix = "media/"

// Resource types reported to clients, as a media host would.
const (
	ResourceImage = "image"
	ResourceVideo = "video"
	ResourceAudio = "audio"
	ResourceRaw   = "raw"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("empty file")
)

// Types a browser could execute are refused.
var blockedTypes = []string{"text/html", "image/svg+xml", "text/javascript", "application/javascript", "application/x-sh"}

// Media describes an uploaded object.
type Media struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	ResourceType string `json:"resourceType"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// Uploader sniffs, names and stores user media.
type Uploader struct {
	store    ObjectStore
	baseURL  string
	maxBytes int64
	newID    func() string
}

// NewUploader builds an uploader. baseURL is prefixed to keys to form public URLs.
func NewUploader(store ObjectStore, baseURL string, maxBytes int64, newID func() string) *Uploader {
	return &Uploader{
		store:    store,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		newID:    newID,
	}
}

// Upload stores r under media/<userID>/<id><ext>. size may be -1 when unknown.
func (u *Uploader) Upload(ctx context.Context, userID string, r io.Reader, size int64) (Media, error) {
	if u.maxBytes > 0 && size > u.maxBytes {
		return Media{}, ErrTooLarge
	}
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Media{}, fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return Media{}, ErrEmptyFile
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	for _, blocked := range blockedTypes {
		if mt.Is(blocked) {
			return Media{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
		}
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	if u.maxBytes > 0 {
		body = &limitedReader{r: body, remaining: u.maxBytes}
	}
	contentType := mt.String()
	key := fmt.Sprintf("%s%s/%s%s", mediaPrefix, userID, u.newID(), mt.Extension())
	if err := u.store.Put(ctx, key, body, size, contentType); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Media{}, ErrTooLarge
		}
		return Media{}, err
	}
	return Media{
		Key:          key,
		URL:          u.baseURL + "/" + key,
		ResourceType: ResourceType(contentType),
		ContentType:  contentType,
		Size:         size,
	}, nil
}

// OwnedBy reports whether url points at media uploaded by userID.
func (u *Uploader) OwnedBy(url, userID string) bool {
	return strings.HasPrefix(url, u.baseURL+"/"+mediaPrefix+userID+"/")
}

// ResourceType buckets a MIME type the way clients render it.
func ResourceType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return ResourceImage
	case strings.HasPrefix(contentType, "video/"):
		return ResourceVideo
	case strings.HasPrefix(contentType, "audio/"):
		return ResourceAudio
	}
	return ResourceRaw
}

// limitedReader fails once more than remaining bytes are read.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
