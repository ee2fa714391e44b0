package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	sigAlgorithm    = "AWS4-HMAC-SHA256"
	sigTerminator   = "aws4_request"
	amzDateFormat   = "20060102T150405Z"
	shortDateLayout = "20060102"

	headerAmzDate          = "X-Amz-Date"
	headerAmzContentSHA256 = "X-Amz-Content-Sha256"

	// EmptyPayloadHash is the SHA-256 of an empty body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// Signer signs S3 requests with AWS Signature Version 4 using a header
// Authorization.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

// NewSigner creates an S3 signer.
func NewSigner(accessKey, secretKey, region string) *Signer {
	return &Signer{AccessKey: accessKey, SecretKey: secretKey, Region: region, Service: "s3"}
}

// Sign sets X-Amz-Date, X-Amz-Content-Sha256 and Authorization on req.
// payloadHash is the lowercase hex SHA-256 of the body.
func (s *Signer) Sign(req *http.Request, payloadHash string, t time.Time) {
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)
	req.Header.Set(headerAmzDate, amzDate)
	req.Header.Set(headerAmzContentSHA256, payloadHash)

	canonical, signedHeaders := s.CanonicalRequest(req, payloadHash)
	scope := s.scope(t)
	stringToSign := strings.Join([]string{sigAlgorithm, amzDate, scope, hashHex([]byte(canonical))}, "\n")
	signature := hex.EncodeToString(hmacSHA256(s.signingKey(t), []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigAlgorithm, s.AccessKey, scope, signedHeaders, signature))
}

// CanonicalRequest returns the canonical request for req and the signed
// header list. Signed headers are host, range and every x-amz-* header.
func (s *Signer) CanonicalRequest(req *http.Request, payloadHash string) (string, string) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	headers := map[string]string{"host": strings.TrimSpace(host)}
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == "range" || strings.HasPrefix(lower, "x-amz-") {
			trimmed := make([]string, len(values))
			for i, v := range values {
				trimmed[i] = strings.Join(strings.Fields(v), " ")
			}
			headers[lower] = strings.Join(trimmed, ",")
		}
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	canonical := strings.Join([]string{
		req.Method,
		EncodePath(req.URL.Path),
		canonicalQuery(req.URL.Query()),
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")
	return canonical, signedHeaders
}

func (s *Signer) scope(t time.Time) string {
	return strings.Join([]string{t.Format(shortDateLayout), s.Region, s.Service, sigTerminator}, "/")
}

func (s *Signer) signingKey(t time.Time) []byte {
	k := hmacSHA256([]byte("AWS4"+s.SecretKey), []byte(t.Format(shortDateLayout)))
	k = hmacSHA256(k, []byte(s.Region))
	k = hmacSHA256(k, []byte(s.Service))
	return hmacSHA256(k, []byte(sigTerminator))
}

// EncodePath URI-encodes every byte of p except unreserved characters and
// the path separator.
func EncodePath(p string) string {
	if p == "" {
		return "/"
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func encodeComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(q))
	for k, vs := range q {
		for _, v := range vs {
			pairs = append(pairs, encodeComponent(k)+"="+encodeComponent(v))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader returns the hex SHA-256 and length of everything read from r.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
