// Package publisher writes a built index to durable object storage as an
// index payload, a fragment sidecar, and a manifest that marks the pair as
// published.
package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/core/index"
	"github.com/markdave123-py/pdfindex/internal/logger"
	"github.com/markdave123-py/pdfindex/internal/models"
)

const (
	IndexSuffix    = ".index"
	SidecarSuffix  = ".fragments.json"
	ManifestSuffix = ".manifest.json"

	indexFile   = "index.bin"
	sidecarFile = "fragments.json"
)

// ErrNotPublished is returned by Fetch when no complete artifact exists at a key.
var ErrNotPublished = errors.New("artifact not published")

// Manifest is written last; its presence marks the payload pair as complete.
type Manifest struct {
	RequestID     string    `json:"request_id"`
	StorageKey    string    `json:"storage_key"`
	IndexKey      string    `json:"index_key"`
	SidecarKey    string    `json:"sidecar_key"`
	IndexSHA256   string    `json:"index_sha256"`
	SidecarSHA256 string    `json:"sidecar_sha256"`
	FragmentCount int       `json:"fragment_count"`
	Dimension     int       `json:"dimension"`
	Model         string    `json:"model"`
	PublishedAt   time.Time `json:"published_at"`
}

type Publisher struct {
	store      core.ObjectClient
	bucket     string
	keys       KeyStrategy
	staging    afero.Fs
	stagingDir string
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type Option func(*Publisher)

// WithStaging sets the filesystem and directory payloads are staged in.
func WithStaging(fs afero.Fs, dir string) Option {
	return func(p *Publisher) {
		p.staging = fs
		p.stagingDir = dir
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func New(store core.ObjectClient, bucket string, keys KeyStrategy, opts ...Option) *Publisher {
	p := &Publisher{
		store:      store,
		bucket:     bucket,
		keys:       keys,
		staging:    afero.NewOsFs(),
		stagingDir: filepath.Join(os.TempDir(), "pdfindex"),
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Keys returns the object keys of the artifact stored under key.
func Keys(key string) (indexKey, sidecarKey, manifestKey string) {
	return key + IndexSuffix, key + SidecarSuffix, key + ManifestSuffix
}

func (p *Publisher) KeyFor(requestID string) string {
	return p.keys.KeyFor(requestID)
}

// Publish stages both payloads under the request's staging directory, then
// uploads index, sidecar and manifest in that order. The previous manifest
// at the key is removed first, so a partial upload is never reported as
// available.
func (p *Publisher) Publish(ctx context.Context, ix *index.Index, requestID string) (*models.PublishedArtifact, error) {
	if !pathSegment(requestID) {
		return nil, fmt.Errorf("%w: request id %q is not a single path segment", core.ErrInvalidRequest, requestID)
	}
	indexData, err := index.MarshalIndex(ix)
	if err != nil {
		return nil, fmt.Errorf("serialize index: %w", err)
	}
	sidecarData, err := index.MarshalSidecar(ix)
	if err != nil {
		return nil, fmt.Errorf("serialize sidecar: %w", err)
	}

	key := p.keys.KeyFor(requestID)
	indexKey, sidecarKey, manifestKey := Keys(key)
	log := logger.FromContext(ctx).With("key", key)

	dir := filepath.Join(p.stagingDir, requestID)
	if err := p.stage(dir, indexData, sidecarData); err != nil {
		return nil, persistence("stage", err)
	}
	defer func() {
		if err := p.staging.RemoveAll(dir); err != nil {
			log.Warn("staging cleanup failed", "dir", dir, "error", err)
		}
	}()

	unlock := p.lock(key)
	defer unlock()

	if err := p.store.DeleteFile(ctx, p.bucket, manifestKey); err != nil {
		return nil, persistence("invalidate manifest", err)
	}

	indexURL, err := p.uploadStaged(ctx, filepath.Join(dir, indexFile), indexKey, "application/octet-stream")
	if err != nil {
		return nil, persistence("upload index", err)
	}

	sidecarURL, err := p.uploadStaged(ctx, filepath.Join(dir, sidecarFile), sidecarKey, "application/json")
	if err != nil {
		p.discard(ctx, log, indexKey)
		return nil, persistence("upload sidecar", err)
	}

	art := &models.PublishedArtifact{
		RequestID:     requestID,
		StorageKey:    key,
		IndexKey:      indexKey,
		SidecarKey:    sidecarKey,
		ManifestKey:   manifestKey,
		IndexURL:      indexURL,
		SidecarURL:    sidecarURL,
		FragmentCount: ix.Len(),
		Dimension:     ix.Dimension,
		Model:         ix.Model,
		PublishedAt:   p.now().UTC(),
	}
	manifest, err := json.Marshal(Manifest{
		RequestID:     requestID,
		StorageKey:    key,
		IndexKey:      indexKey,
		SidecarKey:    sidecarKey,
		IndexSHA256:   checksum(indexData),
		SidecarSHA256: checksum(sidecarData),
		FragmentCount: art.FragmentCount,
		Dimension:     art.Dimension,
		Model:         art.Model,
		PublishedAt:   art.PublishedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	if _, err := p.store.UploadFile(ctx, p.bucket, manifestKey, bytes.NewReader(manifest), "application/json"); err != nil {
		p.discard(ctx, log, indexKey, sidecarKey)
		return nil, persistence("upload manifest", err)
	}

	log.Info("index published", "fragments", art.FragmentCount, "dimension", art.Dimension)
	return art, nil
}

// pathSegment reports whether id can name a staging directory without
// leaving stagingDir.
func pathSegment(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (p *Publisher) stage(dir string, indexData, sidecarData []byte) error {
	if err := p.staging.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(p.staging, filepath.Join(dir, indexFile), indexData, 0o644); err != nil {
		return err
	}
	return afero.WriteFile(p.staging, filepath.Join(dir, sidecarFile), sidecarData, 0o644)
}

func (p *Publisher) uploadStaged(ctx context.Context, path, key, contentType string) (string, error) {
	f, err := p.staging.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return p.store.UploadFile(ctx, p.bucket, key, f, contentType)
}

// discard removes payloads of a failed publication, best effort.
func (p *Publisher) discard(ctx context.Context, log logger.Logger, keys ...string) {
	for _, k := range keys {
		if err := p.store.DeleteFile(ctx, p.bucket, k); err != nil {
			log.Warn("cleanup of partial upload failed", "object", k, "error", err)
		}
	}
}

// lock serializes publications to the same key within this process.
func (p *Publisher) lock(key string) func() {
	p.locksMu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Available reports whether a complete artifact is published at key: the
// manifest exists and both payloads it names exist.
func (p *Publisher) Available(ctx context.Context, key string) (bool, error) {
	m, err := p.manifest(ctx, key)
	if errors.Is(err, ErrNotPublished) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, k := range []string{m.IndexKey, m.SidecarKey} {
		ok, err := p.store.Exists(ctx, p.bucket, k)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", k, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Fetch downloads a published artifact and verifies it against its manifest.
func (p *Publisher) Fetch(ctx context.Context, key string) (*index.Index, *Manifest, error) {
	m, err := p.manifest(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	indexData, err := p.store.GetFile(ctx, p.bucket, m.IndexKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotPublished, m.IndexKey, err)
	}
	sidecarData, err := p.store.GetFile(ctx, p.bucket, m.SidecarKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotPublished, m.SidecarKey, err)
	}
	if checksum(indexData) != m.IndexSHA256 || checksum(sidecarData) != m.SidecarSHA256 {
		return nil, nil, fmt.Errorf("%w: checksum mismatch at %s", index.ErrCorruptIndex, key)
	}
	ix, err := index.Load(indexData, sidecarData)
	if err != nil {
		return nil, nil, err
	}
	return ix, m, nil
}

func (p *Publisher) manifest(ctx context.Context, key string) (*Manifest, error) {
	_, _, manifestKey := Keys(key)
	ok, err := p.store.Exists(ctx, p.bucket, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("check manifest: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPublished, key)
	}
	data, err := p.store.GetFile(ctx, p.bucket, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", index.ErrCorruptIndex, err)
	}
	return &m, nil
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrPersistenceFailure, op, err)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
