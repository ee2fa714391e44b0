package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ObjectStoreAdapter talks to S3-compatible stores directly. Object
// transfers are signed locally; listing and presigning go through the AWS
// SDK client.
type ObjectStoreAdapter struct {
	cfg      ObjectStoreConfig
	logger   zerolog.Logger
	endpoint *url.URL
	signer   *Signer
	http     *http.Client
	client   *s3.Client
	presign  *s3.PresignClient
	now      func() time.Time
}

// NewObjectStoreAdapter validates cfg and creates the adapter.
func NewObjectStoreAdapter(cfg ObjectStoreConfig, logger zerolog.Logger) (*ObjectStoreAdapter, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, unauthenticated("object store", "access key and secret key are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	httpClient := &http.Client{}
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(cfg.Endpoint),
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
		HTTPClient:   httpClient,
	})

	return &ObjectStoreAdapter{
		cfg:      cfg,
		logger:   logger.With().Str("component", "objectstore-adapter").Str("bucket", cfg.Bucket).Logger(),
		endpoint: endpoint,
		signer:   NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Region),
		http:     httpClient,
		client:   client,
		presign:  s3.NewPresignClient(client),
		now:      time.Now,
	}, nil
}

func (a *ObjectStoreAdapter) Backend() string { return BackendS3 }

// Name derives a display name from the endpoint host.
func (a *ObjectStoreAdapter) Name() string {
	return ProviderName(a.endpoint.Host)
}

// ProviderName maps an endpoint host to a display name.
func ProviderName(host string) string {
	host = strings.ToLower(host)
	switch {
	case strings.Contains(host, "minio"):
		return "MinIO"
	case strings.Contains(host, "wasabisys.com"):
		return "Wasabi"
	case strings.Contains(host, "backblazeb2.com"):
		return "Backblaze B2"
	case strings.Contains(host, "amazonaws.com"):
		return "Amazon S3"
	default:
		return "S3-Compatible"
	}
}

// objectURL returns the path-style URL of key, or of the bucket root when
// key is empty.
func (a *ObjectStoreAdapter) objectURL(key string) *url.URL {
	u := *a.endpoint
	p := strings.TrimRight(u.Path, "/") + "/" + a.cfg.Bucket
	if key != "" {
		p += "/" + strings.TrimPrefix(key, "/")
	}
	u.Path = p
	u.RawPath = EncodePath(p)
	u.RawQuery = ""
	return &u
}

func (a *ObjectStoreAdapter) newRequest(ctx context.Context, method, key string, body io.Reader, payloadHash string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.objectURL(key).String(), body)
	if err != nil {
		return nil, err
	}
	a.signer.Sign(req, payloadHash, a.now())
	return req, nil
}

// Upload PUTs the file in a single request. S3 only exposes the object once
// the PUT completes, so an interrupted upload leaves nothing visible.
func (a *ObjectStoreAdapter) Upload(ctx context.Context, localPath, remoteKey string) (*UploadResult, error) {
	const op = "object store upload"
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", op, localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, a.transferTimeout())
	defer cancel()

	payloadHash, size, err := HashReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: hash %s: %w", op, localPath, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%s: rewind %s: %w", op, localPath, err)
	}

	req, err := a.newRequest(ctx, http.MethodPut, remoteKey, f, payloadHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := a.checkResponse(op, resp); err != nil {
		return nil, err
	}
	a.logger.Debug().Str("key", remoteKey).Int64("size", size).Msg("object stored")
	return &UploadResult{RemoteKey: remoteKey, SizeBytes: size}, nil
}

// Download GETs remoteKey into localPath through a .part file.
func (a *ObjectStoreAdapter) Download(ctx context.Context, remoteKey, localPath string) (int64, error) {
	const op = "object store download"
	ctx, cancel := context.WithTimeout(ctx, a.transferTimeout())
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodGet, remoteKey, nil, EmptyPayloadHash)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return 0, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := a.checkResponse(op, resp); err != nil {
		return 0, err
	}
	return writeAtomically(localPath, resp.Body)
}

// Delete removes remoteKey. A missing key is not an error.
func (a *ObjectStoreAdapter) Delete(ctx context.Context, remoteKey string) error {
	const op = "object store delete"
	ctx, cancel := context.WithTimeout(ctx, a.controlTimeout())
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodDelete, remoteKey, nil, EmptyPayloadHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	err = a.checkResponse(op, resp)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// TestConnection issues a HEAD on the bucket root. 403 still proves the
// bucket exists and the credentials reached it.
func (a *ObjectStoreAdapter) TestConnection(ctx context.Context) error {
	const op = "object store test connection"
	ctx, cancel := context.WithTimeout(ctx, a.controlTimeout())
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodHead, "", nil, EmptyPayloadHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusForbidden:
		return nil
	case resp.StatusCode >= 500:
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	default:
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("bucket %s not reachable", a.cfg.Bucket)}
	}
}

// List returns the keys under prefix.
func (a *ObjectStoreAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	objects, err := a.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Key
	}
	return keys, nil
}

// ListObjects pages through ListObjectsV2 under prefix.
func (a *ObjectStoreAdapter) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	const op = "object store list"
	ctx, cancel := context.WithTimeout(ctx, a.controlTimeout())
	defer cancel()

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, a.classifySDK(ctx, op, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// SignedURL presigns a GET for remoteKey.
func (a *ObjectStoreAdapter) SignedURL(ctx context.Context, remoteKey string, ttl time.Duration) (string, error) {
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(remoteKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", remoteKey, err)
	}
	return req.URL, nil
}

func (a *ObjectStoreAdapter) controlTimeout() time.Duration {
	return orDefault(a.cfg.ControlTimeout, DefaultControlTimeout)
}

func (a *ObjectStoreAdapter) transferTimeout() time.Duration {
	return orDefault(a.cfg.TransferTimeout, DefaultTransferTimeout)
}

func (a *ObjectStoreAdapter) checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return classifyStatus(op, resp.StatusCode, s3ErrorCode(body))
}

func (a *ObjectStoreAdapter) classifySDK(ctx context.Context, op string, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return classifyStatus(op, re.HTTPStatusCode(), re.Error())
	}
	return classifyTransport(ctx, op, err)
}

// s3ErrorCode extracts <Code> from an S3 XML error body.
func s3ErrorCode(body []byte) string {
	s := string(body)
	start := strings.Index(s, "<Code>")
	end := strings.Index(s, "</Code>")
	if start < 0 || end <= start {
		return ""
	}
	return s[start+len("<Code>") : end]
}
