package assetsvc

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/template"
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
}

// DiskStore keeps template assets under a directory. Keys are slash-separated paths relative to it.
type DiskStore struct {
	dir       string
	urlPrefix string
	maxSize   int64
}

var _ template.AssetStore = (*DiskStore)(nil)

func NewDiskStore(dir, urlPrefix string, maxSize int64) *DiskStore {
	return &DiskStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/"), maxSize: maxSize}
}

func NewDiskStoreFromConfig(conf *core.Config) *DiskStore {
	return NewDiskStore(conf.Media.Dir, conf.Media.URLPrefix, conf.Media.MaxUploadSize)
}

func (s *DiskStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", errors.Errorf("invalid asset key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

// Save stores an image upload and returns its key. Only PNG, JPEG and GIF files are accepted.
func (s *DiskStore) Save(ctx context.Context, slug, slot string, upload template.Upload) (string, error) {
	content, err := io.ReadAll(io.LimitReader(upload.Content, s.maxSize+1))
	if err != nil {
		return "", errors.Wrap(err, "reading upload")
	}
	if int64(len(content)) > s.maxSize {
		return "", core.NewValidationError(nil, core.FieldError{Field: slot, Error: "file is too large"})
	}
	ext, ok := allowedTypes[http.DetectContentType(content)]
	if !ok {
		return "", core.NewValidationError(nil, core.FieldError{Field: slot, Error: "only PNG, JPEG and GIF images are allowed"})
	}

	key := path.Join("templates", slug, slot+"-"+uuid.New().String()+ext)
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "creating asset directory")
	}
	if err = os.WriteFile(p, content, 0o644); err != nil {
		return "", errors.Wrap(err, "writing asset")
	}
	return key, nil
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting asset")
	}
	return nil
}

func (s *DiskStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrap(err, "opening asset")
	}
	return f, nil
}

// URL returns the public path of an asset, or an empty string for an empty key.
func (s *DiskStore) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.urlPrefix + "/" + key
}
