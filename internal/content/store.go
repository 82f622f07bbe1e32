package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"branchdb/internal/errors"
)

const keyPrefix = "obj:"

// Stored values carry a one-byte format tag so raw payloads that happen
// to start with the zstd magic are never mis-decompressed.
const (
	formatRaw  byte = 0x00
	formatZstd byte = 0x01
)

// Options configures Store behavior
type Options struct {
	CacheSize   int // number of objects to cache
	CompressMin int // minimum payload size before compressing
}

// Store is the append-only content-addressed object store. Objects are
// keyed by the sha256 of their bytes; nothing is ever updated or deleted.
type Store struct {
	db          *badger.DB
	cache       *lru.Cache[string, []byte]
	compressMin int
	enc         *zstd.Encoder
	dec         *zstd.Decoder
}

// New creates a new Store backed by db.
func New(db *badger.DB, opts Options) (*Store, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	if opts.CompressMin == 0 {
		opts.CompressMin = 1024
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &Store{
		db:          db,
		cache:       cache,
		compressMin: opts.CompressMin,
		enc:         enc,
		dec:         dec,
	}, nil
}

// Hash returns the content hash of payload without storing it.
func Hash(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// Put stores payload and returns its hash. Re-submitting identical bytes
// returns the existing hash and performs no duplicate write.
func (s *Store) Put(payload []byte) (string, error) {
	if payload == nil {
		payload = []byte{}
	}

	hash := Hash(payload)
	key := []byte(keyPrefix + hash)

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil // already stored
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		var value []byte
		if len(payload) >= s.compressMin {
			value = s.enc.EncodeAll(payload, []byte{formatZstd})
		} else {
			value = append([]byte{formatRaw}, payload...)
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return "", fmt.Errorf("storing object: %w", err)
	}

	// Cache a private copy so later caller mutations of payload cannot
	// poison reads.
	s.cache.Add(hash, append([]byte(nil), payload...))
	return hash, nil
}

// Get retrieves the payload for hash. The stored bytes are re-hashed
// after decompression; a mismatch means storage-layer corruption.
func (s *Store) Get(hash string) ([]byte, error) {
	if payload, ok := s.cache.Get(hash); ok {
		return payload, nil
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + hash))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound("object %s not found", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}

	payload, err := s.decode(hash, value)
	if err != nil {
		return nil, err
	}

	if Hash(payload) != hash {
		return nil, errors.CorruptObject(hash)
	}

	s.cache.Add(hash, payload)
	return payload, nil
}

// ResolvePrefix lists stored hashes beginning with prefix, in key order.
// The scan stops after a handful of matches; callers only need enough to
// detect ambiguity.
func (s *Store) ResolvePrefix(prefix string) ([]string, error) {
	var matches []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		scan := []byte(keyPrefix + prefix)
		for it.Seek(scan); it.ValidForPrefix(scan) && len(matches) < 8; it.Next() {
			key := string(it.Item().Key())
			matches = append(matches, key[len(keyPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning objects: %w", err)
	}
	return matches, nil
}

// Exists reports whether hash is stored.
func (s *Store) Exists(hash string) bool {
	if hash == "" {
		return false
	}
	if _, ok := s.cache.Get(hash); ok {
		return true
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + hash))
		return err
	})
	return err == nil
}

// decode strips the format tag. A missing or unrecognized tag means the
// stored record was not written by this store.
func (s *Store) decode(hash string, value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, errors.CorruptObject(hash)
	}
	switch value[0] {
	case formatRaw:
		return value[1:], nil
	case formatZstd:
		payload, err := s.dec.DecodeAll(value[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing object %s: %w", hash, err)
		}
		return payload, nil
	default:
		return nil, errors.CorruptObject(hash)
	}
}

// Close releases the compression codecs. The badger handle is owned by
// the caller.
func (s *Store) Close() {
	s.enc.Close()
	s.dec.Close()
}
