// Package crypto implements the fixed-key AES-128 body cipher shared with footprint clients.
//
// Wire format: the request body is the hex (or base64) text of AES-128-CBC ciphertext with
// PKCS#7 padding. The IV is the key itself, so no IV travels on the wire and identical
// plaintexts produce identical ciphertexts. Clients depend on this format; it is kept as-is.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

var (
	// ErrDecoding is returned when the body is not valid text in the configured encoding.
	ErrDecoding = errors.New("invalid ciphertext encoding")
	// ErrDecryption is returned when decoded ciphertext cannot be decrypted under the key.
	ErrDecryption = errors.New("ciphertext cannot be decrypted")
)

// Encoding selects the text encoding of ciphertext on the wire.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding maps a configuration value to an Encoding. Empty means hex.
func ParseEncoding(value string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(EncodingHex):
		return EncodingHex, nil
	case string(EncodingBase64):
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("unsupported ciphertext encoding %q", value)
	}
}

// AES128 is safe for concurrent use: it holds only the key schedule and never mutates it.
type AES128 struct {
	block    cipher.Block
	iv       []byte
	encoding Encoding
}

// NewAES128 builds the body cipher for a 16-byte key.
func NewAES128(key []byte, enc Encoding) (*AES128, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aes-128 key must be %d bytes, got %d", KeySize, len(key))
	}
	if enc == "" {
		enc = EncodingHex
	}
	if enc != EncodingHex && enc != EncodingBase64 {
		return nil, fmt.Errorf("unsupported ciphertext encoding %q", enc)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	copy(iv, key)

	return &AES128{block: block, iv: iv, encoding: enc}, nil
}

// Encoding returns the configured wire encoding.
func (c *AES128) Encoding() Encoding {
	return c.encoding
}

// Encrypt pads and encrypts plaintext and returns the encoded ciphertext text.
func (c *AES128) Encrypt(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return c.encode(out), nil
}

// Decrypt decodes the text and decrypts it. Decoding errors wrap ErrDecoding and are
// reported before any decryption is attempted; everything else wraps ErrDecryption.
func (c *AES128) Decrypt(encoded []byte) ([]byte, error) {
	raw, err := c.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return c.DecryptRaw(raw)
}

// Decode turns ciphertext text into raw ciphertext bytes. Surrounding whitespace is ignored.
func (c *AES128) Decode(encoded []byte) ([]byte, error) {
	text := bytes.TrimSpace(encoded)

	switch c.encoding {
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
		n, err := base64.StdEncoding.Strict().Decode(out, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
		}
		return out[:n], nil
	default:
		out := make([]byte, hex.DecodedLen(len(text)))
		n, err := hex.Decode(out, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
		}
		return out[:n], nil
	}
}

// DecryptRaw decrypts raw ciphertext and strips the padding. It never returns partial output.
func (c *AES128) DecryptRaw(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrDecryption)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrDecryption, len(ciphertext), aes.BlockSize)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ciphertext)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

func (c *AES128) encode(raw []byte) []byte {
	if c.encoding == EncodingBase64 {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
		base64.StdEncoding.Encode(out, raw)
		return out
	}
	out := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(out, raw)
	return out
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding size")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-n], nil
}

// ParseKey accepts a raw 16-character key, or the hex or base64 encoding of 16 bytes.
func ParseKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("missing encryption key")
	}

	if len(value) == KeySize {
		return []byte(value), nil
	}

	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}

	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}

	return nil, fmt.Errorf("must be a raw %d byte string or its hex/base64 encoding", KeySize)
}
