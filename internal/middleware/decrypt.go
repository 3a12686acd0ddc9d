package middleware

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/footprint-labs/footprint/internal/crypto"
	"github.com/footprint-labs/footprint/internal/errors"
	"github.com/footprint-labs/footprint/internal/httputil"
	"github.com/footprint-labs/footprint/internal/logging"
)

// DefaultMaxBodyBytes bounds the ciphertext drained from one request.
const DefaultMaxBodyBytes int64 = 10 << 20

// Cipher decodes and decrypts a ciphertext body.
type Cipher interface {
	Decrypt(encoded []byte) ([]byte, error)
}

// PlaintextBody replaces the transport body after decryption. It is read-once like the body
// it replaces: once exhausted every Read returns (0, io.EOF).
type PlaintextBody struct {
	r    *bytes.Reader
	size int64
}

// NewPlaintextBody returns a body that yields plain exactly once.
func NewPlaintextBody(plain []byte) *PlaintextBody {
	return &PlaintextBody{r: bytes.NewReader(plain), size: int64(len(plain))}
}

func (b *PlaintextBody) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *PlaintextBody) WriteTo(w io.Writer) (int64, error) {
	return b.r.WriteTo(w)
}

// Close is a no-op; the transport body was closed when it was drained.
func (b *PlaintextBody) Close() error {
	return nil
}

// Size is the total plaintext length.
func (b *PlaintextBody) Size() int64 {
	return b.size
}

// Remaining is the number of unread bytes.
func (b *PlaintextBody) Remaining() int {
	return b.r.Len()
}

type plaintextKey struct{}

// PlaintextFromContext returns a copy of the decrypted body, if this request was decrypted.
func PlaintextFromContext(ctx context.Context) ([]byte, bool) {
	plain, ok := ctx.Value(plaintextKey{}).([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(plain), true
}

// DecryptRequest drains r.Body once, decrypts it and returns a shallow copy of r whose body
// yields the plaintext. The original body is closed and never read again, even on failure.
// Errors are *errors.ServiceError with code DECODING_ERROR or DECRYPTION_ERROR.
func DecryptRequest(r *http.Request, c Cipher, maxBytes int64) (*http.Request, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	var raw []byte
	if r.Body != nil {
		var err error
		raw, err = httputil.ReadAllStrict(r.Body, maxBytes)
		r.Body.Close()
		if err != nil {
			reason := "read"
			if stderrors.Is(err, httputil.ErrBodyTooLarge) {
				reason = "body_too_large"
			}
			return nil, errors.DecodingFailed(err).WithDetails("reason", reason)
		}
	}

	plain, err := c.Decrypt(raw)
	if err != nil {
		if stderrors.Is(err, crypto.ErrDecoding) {
			return nil, errors.DecodingFailed(err)
		}
		return nil, errors.DecryptionFailed(err)
	}
	if !utf8.Valid(plain) {
		return nil, errors.DecryptionFailed(stderrors.New("plaintext is not valid UTF-8"))
	}

	out := r.WithContext(context.WithValue(r.Context(), plaintextKey{}, plain))
	out.Body = NewPlaintextBody(plain)
	out.ContentLength = int64(len(plain))
	out.GetBody = func() (io.ReadCloser, error) {
		return NewPlaintextBody(plain), nil
	}
	out.Header = r.Header.Clone()
	out.Header.Set("Content-Length", strconv.Itoa(len(plain)))
	return out, nil
}

// DecryptConfig configures the decryption interceptor.
type DecryptConfig struct {
	Cipher       Cipher
	Logger       *logging.Logger
	MaxBodyBytes int64
	// Methods whose bodies are decrypted. Empty means POST, PUT and PATCH.
	Methods   []string
	SkipPaths []string
	OnReject  RejectFunc
	// OnDecrypt observes every decryption attempt.
	OnDecrypt func(duration time.Duration, err error)
}

// DecryptMiddleware substitutes the decrypted body before any handler runs.
type DecryptMiddleware struct {
	cipher       Cipher
	logger       *logging.Logger
	maxBodyBytes int64
	methods      map[string]bool
	skipPaths    map[string]bool
	onReject     RejectFunc
	onDecrypt    func(time.Duration, error)
}

// NewDecryptMiddleware creates the decryption interceptor.
func NewDecryptMiddleware(cfg DecryptConfig) *DecryptMiddleware {
	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodPost, http.MethodPut, http.MethodPatch}
	}
	methodSet := make(map[string]bool, len(methods))
	for _, m := range methods {
		methodSet[strings.ToUpper(m)] = true
	}

	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	return &DecryptMiddleware{
		cipher:       cfg.Cipher,
		logger:       cfg.Logger,
		maxBodyBytes: maxBytes,
		methods:      methodSet,
		skipPaths:    pathSet(cfg.SkipPaths),
		onReject:     cfg.OnReject,
		onDecrypt:    cfg.OnDecrypt,
	}
}

// Applies reports whether the request body is expected to be ciphertext.
func (m *DecryptMiddleware) Applies(r *http.Request) bool {
	return m.methods[r.Method] && !m.skipPaths[r.URL.Path]
}

// Handler returns the middleware handler.
func (m *DecryptMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Applies(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		decrypted, err := DecryptRequest(r, m.cipher, m.maxBodyBytes)
		if m.onDecrypt != nil {
			m.onDecrypt(time.Since(start), err)
		}
		if err != nil {
			respondError(w, r, m.logger, m.onReject, err)
			return
		}

		if m.logger != nil {
			m.logger.WithContext(r.Context()).WithField("plaintext_bytes", decrypted.ContentLength).Debug("Request body decrypted")
		}

		next.ServeHTTP(w, decrypted)
	})
}
