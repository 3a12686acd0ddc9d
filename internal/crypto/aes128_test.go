package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testKey = []byte("footprint-key-16")

func newTestCipher(t *testing.T, enc Encoding) *AES128 {
	t.Helper()
	c, err := NewAES128(testKey, enc)
	require.NoError(t, err)
	return c
}

func TestNewAES128_KeyLength(t *testing.T) {
	for _, n := range []int{0, 15, 17, 24, 32} {
		_, err := NewAES128(make([]byte, n), EncodingHex)
		assert.Error(t, err, "key length %d", n)
	}

	_, err := NewAES128(testKey, Encoding("rot13"))
	assert.Error(t, err)

	c, err := NewAES128(testKey, "")
	require.NoError(t, err)
	assert.Equal(t, EncodingHex, c.Encoding())
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingHex, false},
		{"HEX", EncodingHex, false},
		{" base64 ", EncodingBase64, false},
		{"base32", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestAES128_LatitudeScenario(t *testing.T) {
	c := newTestCipher(t, EncodingHex)
	body := []byte(`{"lat":37.5}`)

	encoded, err := c.Encrypt(body)
	require.NoError(t, err)

	_, err = hex.DecodeString(string(encoded))
	require.NoError(t, err, "ciphertext must be hex text")
	assert.Len(t, encoded, 2*aes.BlockSize, "12 bytes pad to one block")

	plain, err := c.Decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, `{"lat":37.5}`, string(plain))
}

func TestAES128_Deterministic(t *testing.T) {
	c := newTestCipher(t, EncodingHex)

	a, err := c.Encrypt([]byte("same walk"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same walk"))
	require.NoError(t, err)

	assert.Equal(t, a, b, "fixed key and IV give identical ciphertexts")
}

func TestAES128_InvalidHex(t *testing.T) {
	c := newTestCipher(t, EncodingHex)

	_, err := c.Decrypt([]byte("zz"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecoding))
	assert.False(t, errors.Is(err, ErrDecryption))

	_, err = c.Decrypt([]byte("abc"))
	assert.True(t, errors.Is(err, ErrDecoding), "odd length")
}

func TestAES128_TrimsSurroundingWhitespace(t *testing.T) {
	c := newTestCipher(t, EncodingHex)
	encoded, err := c.Encrypt([]byte(`{"a":1}`))
	require.NoError(t, err)

	plain, err := c.Decrypt(append(append([]byte("  "), encoded...), '\n'))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(plain))
}

func TestAES128_EmptyCiphertext(t *testing.T) {
	c := newTestCipher(t, EncodingHex)

	plain, err := c.Decrypt(nil)
	assert.Nil(t, plain)
	assert.True(t, errors.Is(err, ErrDecryption))

	plain, err = c.Decrypt([]byte("   "))
	assert.Nil(t, plain)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestAES128_InvalidPadding(t *testing.T) {
	c := newTestCipher(t, EncodingHex)

	encryptBlock := func(last []byte) []byte {
		block := bytes.Repeat([]byte{'x'}, aes.BlockSize)
		copy(block[aes.BlockSize-len(last):], last)
		out := make([]byte, aes.BlockSize)
		cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, block)
		return out
	}

	tests := []struct {
		name string
		tail []byte
	}{
		{"zero pad byte", []byte{0x00}},
		{"pad larger than block", []byte{0x11}},
		{"inconsistent pad bytes", []byte{0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := c.DecryptRaw(encryptBlock(tt.tail))
			assert.Nil(t, plain)
			assert.True(t, errors.Is(err, ErrDecryption))
		})
	}
}

func TestAES128_WrongKey(t *testing.T) {
	c := newTestCipher(t, EncodingHex)
	other, err := NewAES128([]byte("another-key-1234"), EncodingHex)
	require.NoError(t, err)

	encoded, err := c.Encrypt([]byte(`{"distance":1200}`))
	require.NoError(t, err)

	plain, err := other.Decrypt(encoded)
	if err == nil {
		assert.NotEqual(t, `{"distance":1200}`, string(plain))
	} else {
		assert.True(t, errors.Is(err, ErrDecryption))
	}
}

func TestAES128_Base64(t *testing.T) {
	c := newTestCipher(t, EncodingBase64)

	encoded, err := c.Encrypt([]byte(`{"lat":37.5}`))
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(string(encoded))
	require.NoError(t, err)

	plain, err := c.Decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, `{"lat":37.5}`, string(plain))

	_, err = c.Decrypt([]byte("not*base64"))
	assert.True(t, errors.Is(err, ErrDecoding))
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "key")
		enc := rapid.SampledFrom([]Encoding{EncodingHex, EncodingBase64}).Draw(t, "encoding")
		plaintext := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "plaintext")

		c, err := NewAES128(key, enc)
		if err != nil {
			t.Fatalf("new cipher: %v", err)
		}

		encoded, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := c.Decrypt(encoded)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %x want %x", got, plaintext)
		}
	})
}

func TestNonBlockMultipleProperty(t *testing.T) {
	c := newTestCipher(t, EncodingHex)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 256).Filter(func(n int) bool { return n%aes.BlockSize != 0 }).Draw(t, "length")
		raw := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "ciphertext")

		plain, err := c.Decrypt([]byte(hex.EncodeToString(raw)))
		if !errors.Is(err, ErrDecryption) {
			t.Fatalf("expected decryption error, got %v", err)
		}
		if plain != nil {
			t.Fatalf("partial output returned: %x", plain)
		}
	})
}

func TestOutsideAlphabetProperty(t *testing.T) {
	hexCipher := newTestCipher(t, EncodingHex)
	b64Cipher := newTestCipher(t, EncodingBase64)

	rapid.Check(t, func(t *rapid.T) {
		useHex := rapid.Bool().Draw(t, "hex")

		var (
			c       *AES128
			valid   string
			invalid []rune
		)
		if useHex {
			c = hexCipher
			valid = "0123456789abcdefABCDEF"
			invalid = []rune("ghzGZ!@#$%^&*()-_=+[]{};:'\",.<>/?|~`ü")
		} else {
			c = b64Cipher
			valid = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
			invalid = []rune("!@#$%^&*()-_[]{};:'\",.<>?|~`ü")
		}

		prefix := rapid.StringOfN(rapid.RuneFrom([]rune(valid)), 0, 64, -1).Draw(t, "prefix")
		suffix := rapid.StringOfN(rapid.RuneFrom([]rune(valid)), 0, 64, -1).Draw(t, "suffix")
		bad := rapid.RuneFrom(invalid).Draw(t, "bad")

		input := prefix + string(bad) + suffix

		_, err := c.Decrypt([]byte(input))
		if !errors.Is(err, ErrDecoding) {
			t.Fatalf("expected decoding error for %q, got %v", input, err)
		}
		if errors.Is(err, ErrDecryption) {
			t.Fatalf("decryption attempted for %q", input)
		}
	})
}

func TestParseKey(t *testing.T) {
	raw := "0123456789abcdef"
	hexKey := hex.EncodeToString([]byte(raw))
	b64Key := base64.StdEncoding.EncodeToString([]byte(raw))

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"raw", raw, false},
		{"hex", hexKey, false},
		{"base64", b64Key, false},
		{"empty", "", true},
		{"too short", "short", true},
		{"aes-256 length", strings.Repeat("k", 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []byte(raw), key)
		})
	}
}
