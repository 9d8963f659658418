package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/angelmondragon/escrow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
)

const pingTimeout = 5 * time.Second

// File is one upload handed to the blob store.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// bucketAPI is the slice of *storage.BucketHandle the client relies on.
type bucketAPI interface {
	Write(ctx context.Context, object, contentType string, body io.Reader, limit int64) (int64, error)
	Delete(ctx context.Context, object string) error
	Ping(ctx context.Context) error
}

// Client stores return evidence in a single GCS bucket and hands out public
// object URLs.
type Client struct {
	sdk        *storage.Client
	bucket     bucketAPI
	bucketName string
	baseURL    string
	maxBytes   int64
	logg       *logger.Logger
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.EvidenceBucket == "" {
		return nil, errors.New("gcs evidence bucket is required")
	}

	var opts []option.ClientOption
	if gcp.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	}
	sdk, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	client := newClient(&sdkBucket{handle: sdk.Bucket(cfg.EvidenceBucket)}, cfg, logg)
	client.sdk = sdk
	if err := client.Ping(ctx); err != nil {
		_ = sdk.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "gcs client initialized")
	}
	return client, nil
}

func newClient(bucket bucketAPI, cfg config.GCSConfig, logg *logger.Logger) *Client {
	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 10
	}
	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com"
	}
	return &Client{
		bucket:     bucket,
		bucketName: cfg.EvidenceBucket,
		baseURL:    baseURL,
		maxBytes:   int64(maxMB) << 20,
		logg:       logg,
	}
}

func (c *Client) Close() error {
	if c == nil || c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bucket == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.bucket.Ping(ctx)
}

// Upload writes file under prefix and returns its public URL.
func (c *Client) Upload(ctx context.Context, prefix string, file File) (string, error) {
	if file.Body == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "file body is required")
	}
	contentType := strings.TrimSpace(file.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	object := path.Join(strings.Trim(prefix, "/"), uuid.NewString()+extension(file.Name))

	written, err := c.bucket.Write(ctx, object, contentType, file.Body, c.maxBytes)
	if errors.Is(err, errTooLarge) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "file exceeds upload limit").
			WithDetails(map[string]any{"max_bytes": c.maxBytes})
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "upload evidence").
			WithDetails(map[string]any{"transient": true})
	}

	if c.logg != nil {
		c.logg.Debug(c.logg.WithFields(ctx, map[string]any{"object": object, "bytes": written}), "evidence uploaded")
	}
	return c.ObjectURL(object), nil
}

// Delete removes the object behind rawURL. Missing objects are ignored.
func (c *Client) Delete(ctx context.Context, rawURL string) error {
	object, err := c.objectFromURL(rawURL)
	if err != nil {
		return err
	}
	if err := c.bucket.Delete(ctx, object); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "delete evidence").
			WithDetails(map[string]any{"transient": true})
	}
	return nil
}

func (c *Client) ObjectURL(object string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.bucketName, object)
}

func (c *Client) objectFromURL(rawURL string) (string, error) {
	prefix := fmt.Sprintf("%s/%s/", c.baseURL, c.bucketName)
	if !strings.HasPrefix(rawURL, prefix) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "url does not belong to the evidence bucket")
	}
	object, err := url.PathUnescape(strings.TrimPrefix(rawURL, prefix))
	if err != nil || object == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid evidence url")
	}
	return object, nil
}

func extension(name string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if len(ext) > 8 {
		return ""
	}
	return ext
}

var errTooLarge = errors.New("object exceeds size limit")

type sdkBucket struct {
	handle *storage.BucketHandle
}

func (b *sdkBucket) Write(ctx context.Context, object, contentType string, body io.Reader, limit int64) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.handle.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	n, err := io.Copy(w, io.LimitReader(body, limit+1))
	if err == nil && n > limit {
		err = errTooLarge
	}
	if err != nil {
		// cancelling the context aborts the upload instead of committing a partial object
		cancel()
		_ = w.Close()
		return n, err
	}
	return n, w.Close()
}

func (b *sdkBucket) Delete(ctx context.Context, object string) error {
	return b.handle.Object(object).Delete(ctx)
}

func (b *sdkBucket) Ping(ctx context.Context) error {
	_, err := b.handle.Attrs(ctx)
	return err
}
