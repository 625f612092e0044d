package dkim

import (
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"sync"

	"blitiri.com.ar/go/dkimsign/internal/normalize"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/scrypt"
)

// DefaultKeyBits is the RSA key size used when none is given.
const DefaultKeyBits = 1024

// ErrKeyGeneration is returned when the key pair cannot be derived.
var ErrKeyGeneration = errors.New("key generation error")

// scrypt parameters for turning the passphrase into a seed. They follow
// the recommendations from the scrypt paper, same as for user passwords.
const (
	scryptLogN   = 14
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = chacha20.KeySize
)

// Public exponent, same as crypto/rsa uses.
const publicExponent = 65537

// DeriveKey derives an RSA key pair from the given passphrase.
//
// The derivation is deterministic: the same passphrase and key size always
// give the same key. The passphrase is normalized first, so equivalent
// Unicode spellings of it give the same key too.
//
// The passphrase is all the secret there is to the key, so it must be
// treated like the private key itself.
func DeriveKey(passphrase string, bits int) (*rsa.PrivateKey, error) {
	if err := checkKeyBits(bits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	pass, err := normalize.Passphrase(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: normalizing passphrase: %v",
			ErrKeyGeneration, err)
	}

	// The salt only separates key sizes; the output must depend on nothing
	// but the passphrase and the size.
	salt := []byte("dkim-rsa-" + strconv.Itoa(bits))
	seed, err := scrypt.Key([]byte(pass), salt,
		1<<scryptLogN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: scrypt failed: %v", ErrKeyGeneration, err)
	}

	stream, err := newKeystream(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	key, err := generateKey(stream, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return key, nil
}

func checkKeyBits(bits int) error {
	if bits < 1024 || bits%2 != 0 {
		return fmt.Errorf("unsupported key size %d", bits)
	}
	return nil
}

// keystream is an endless, deterministic byte stream: the ChaCha20
// keystream for the given seed, with a zero nonce.
type keystream struct {
	c *chacha20.Cipher
}

func newKeystream(seed []byte) (*keystream, error) {
	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(seed, nonce)
	if err != nil {
		return nil, err
	}
	return &keystream{c}, nil
}

func (k *keystream) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	k.c.XORKeyStream(p, p)
	return len(p), nil
}

// generateKey generates a two-prime RSA key from the given stream.
//
// We can't use rsa.GenerateKey: it is not deterministic even when given a
// deterministic reader.
func generateKey(r io.Reader, bits int) (*rsa.PrivateKey, error) {
	e := big.NewInt(publicExponent)
	one := big.NewInt(1)

	for {
		p, err := prime(r, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := prime(r, bits-bits/2)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) == 0 {
			continue
		}

		n := new(big.Int).Mul(p, q)
		if n.BitLen() != bits {
			continue
		}

		pm1 := new(big.Int).Sub(p, one)
		qm1 := new(big.Int).Sub(q, one)
		phi := new(big.Int).Mul(pm1, qm1)

		// No inverse means e is not coprime with phi; try other primes.
		d := new(big.Int).ModInverse(e, phi)
		if d == nil {
			continue
		}

		key := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: n, E: publicExponent},
			D:         d,
			Primes:    []*big.Int{p, q},
		}
		key.Precompute()
		if err := key.Validate(); err != nil {
			return nil, err
		}
		return key, nil
	}
}

// prime returns a number of the given bit length that is prime with high
// probability. The two top bits are set, so the product of two of them
// has exactly twice the length.
func prime(r io.Reader, bits int) (*big.Int, error) {
	b := uint(bits % 8)
	if b == 0 {
		b = 8
	}

	buf := make([]byte, (bits+7)/8)
	p := new(big.Int)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}

		// Clear bits in the first byte to make sure the candidate has a
		// size <= bits.
		buf[0] &= uint8(int(1<<b) - 1)

		// Set the top two bits.
		if b >= 2 {
			buf[0] |= 3 << (b - 2)
		} else {
			buf[0] |= 1
			if len(buf) > 1 {
				buf[1] |= 0x80
			}
		}

		// Make it odd.
		buf[len(buf)-1] |= 1

		p.SetBytes(buf)
		if p.ProbablyPrime(20) {
			return p, nil
		}
	}
}

// KeyCache caches derived keys, by passphrase and key size.
// It is safe for concurrent use, and the zero value is an empty cache.
// Keys returned by it are shared, and must not be modified.
type KeyCache struct {
	mu   sync.Mutex
	keys map[cacheKey]*rsa.PrivateKey
}

// The passphrase is kept hashed, so it doesn't linger in memory.
type cacheKey struct {
	sum  [sha256.Size]byte
	bits int
}

// NewKeyCache returns an empty KeyCache.
func NewKeyCache() *KeyCache {
	return &KeyCache{keys: map[cacheKey]*rsa.PrivateKey{}}
}

// Get the key for the given passphrase and size, deriving it if needed.
func (c *KeyCache) Get(passphrase string, bits int) (*rsa.PrivateKey, error) {
	ck := cacheKey{sha256.Sum256([]byte(passphrase)), bits}

	c.mu.Lock()
	key, ok := c.keys[ck]
	c.mu.Unlock()
	if ok {
		return key, nil
	}

	// Derive without holding the lock; two concurrent misses may both do
	// the work, but they will get the same key.
	key, err := DeriveKey(passphrase, bits)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.keys[ck]; ok {
		return cached, nil
	}
	if c.keys == nil {
		c.keys = map[cacheKey]*rsa.PrivateKey{}
	}
	c.keys[ck] = key
	return key, nil
}

// Len returns the number of keys in the cache.
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}
