// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sessiondb persists signing sessions in a walletdb database. A
// session is the TxSigCollect text of a signer, keyed by its id, so that
// co-signers of the same transaction depositing into one store accumulate
// their signatures. Supporting transactions are cached separately and handed
// back to every signer read from the store.
package sessiondb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/signer"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register bdb driver.
)

const (
	// dbDriver is the walletdb driver the store is opened with.
	dbDriver = "bdb"

	// DefaultTimeout is the time to wait for the database lock.
	DefaultTimeout = 10 * time.Second
)

var (
	// sessionBucket holds the TxSigCollect text of every session, keyed
	// by id.
	sessionBucket = []byte("signer-sessions")

	// supportingTxBucket holds serialized supporting transactions, keyed
	// by hash.
	supportingTxBucket = []byte("supporting-txs")
)

var (
	// ErrSessionNotFound is returned when no session is stored under an
	// id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBadSessionID is returned for an id of the wrong length.
	ErrBadSessionID = errors.New("malformed session id")
)

// OpenDB opens the bdb database at dbPath, creating it and its directory
// when it does not exist yet.
func OpenDB(dbPath string, timeout time.Duration) (walletdb.DB, error) {
	db, err := walletdb.Open(dbDriver, dbPath, true, timeout, false)
	if err == nil {
		return db, nil
	}
	if !errors.Is(err, walletdb.ErrDbDoesNotExist) {
		return nil, fmt.Errorf("unable to open session db: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	db, err = walletdb.Create(dbDriver, dbPath, true, timeout, false)
	if err != nil {
		return nil, fmt.Errorf("unable to create session db: %w", err)
	}

	return db, nil
}

// Store keeps signing sessions and supporting transactions.
//
// NOTE: Store is safe for concurrent use. The signers it returns are not, and
// belong to the caller.
type Store struct {
	db   walletdb.DB
	opts []signer.Option
}

// A compile-time assertion to ensure that Store implements the
// signer.SupportingTxProvider interface.
var _ signer.SupportingTxProvider = (*Store)(nil)

// New returns a store on db, creating its buckets if needed. opts are
// applied to every signer read from the store, in addition to the store
// itself as supporting transaction provider.
func New(db walletdb.DB, opts ...signer.Option) (*Store, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		for _, key := range [][]byte{sessionBucket, supportingTxBucket} {
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create session buckets: %w",
			err)
	}

	s := &Store{db: db}
	s.opts = append(
		append([]signer.Option(nil), opts...),
		signer.WithSupportingTxProvider(s),
	)

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutSession stores sgn under its TxSigCollect id and caches its supporting
// transactions. A session already stored under the id is merged with sgn
// first, so nothing collected earlier is lost. The id is returned.
func (s *Store) PutSession(sgn *signer.Signer) (string, error) {
	id := sgn.TxSigCollectID()

	// Merging parses the stored session, which may consult the
	// supporting transaction bucket, so the stored text is read in its
	// own transaction.
	existing, err := s.sessionText(id)
	switch {
	case errors.Is(err, ErrSessionNotFound):

	case err != nil:
		return "", err

	default:
		stored, err := signer.ParseTxSigCollect(existing, s.opts...)
		if err != nil {
			return "", fmt.Errorf("session %s: %w", id, err)
		}
		if err := stored.Merge(sgn); err != nil {
			return "", fmt.Errorf("session %s: %w", id, err)
		}
		sgn = stored

		log.Debugf("Merged session %s with stored state", id)
	}

	text, err := sgn.SerializeTxSigCollect()
	if err != nil {
		return "", err
	}
	txs, err := serializeTxs(sgn.SupportingTxs())
	if err != nil {
		return "", err
	}

	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		txBucket := tx.ReadWriteBucket(supportingTxBucket)
		for hash, raw := range txs {
			if err := txBucket.Put(hash[:], raw); err != nil {
				return err
			}
		}

		return tx.ReadWriteBucket(sessionBucket).Put(
			[]byte(id), []byte(text),
		)
	})
	if err != nil {
		return "", err
	}

	log.Infof("Stored session %s with %d supporting transactions", id,
		len(txs))

	return id, nil
}

// serializeTxs serializes transactions keyed by hash.
func serializeTxs(txs []*wire.MsgTx) (map[chainhash.Hash][]byte, error) {
	raw := make(map[chainhash.Hash][]byte, len(txs))
	for _, tx := range txs {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return nil, err
		}
		raw[tx.TxHash()] = buf.Bytes()
	}

	return raw, nil
}

// sessionText returns the stored text of session id.
func (s *Store) sessionText(id string) (string, error) {
	if len(id) != signer.TxSigCollectIDLen {
		return "", fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}

	var text string
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		v := tx.ReadBucket(sessionBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		text = string(v)

		return nil
	})

	return text, err
}

// Session returns the signer stored under id.
func (s *Store) Session(id string) (*signer.Signer, error) {
	text, err := s.sessionText(id)
	if err != nil {
		return nil, err
	}

	return signer.ParseTxSigCollect(text, s.opts...)
}

// DeleteSession removes session id. Supporting transactions are kept, since
// other sessions may spend from them.
func (s *Store) DeleteSession(id string) error {
	if len(id) != signer.TxSigCollectIDLen {
		return fmt.Errorf("%w: %q", ErrBadSessionID, id)
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(sessionBucket)
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}

		return bucket.Delete([]byte(id))
	})
}

// ForEachSession calls f with every stored session in id order, stopping at
// the first error f returns. A session that fails to parse stops the
// iteration with its error.
func (s *Store) ForEachSession(f func(id string, sgn *signer.Signer) error) error {
	type entry struct {
		id, text string
	}

	var entries []entry
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(sessionBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{
				id: string(k), text: string(v),
			})

			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		sgn, err := signer.ParseTxSigCollect(e.text, s.opts...)
		if err != nil {
			return fmt.Errorf("session %s: %w", e.id, err)
		}
		if err := f(e.id, sgn); err != nil {
			return err
		}
	}

	return nil
}

// PutSupportingTx caches a supporting transaction.
func (s *Store) PutSupportingTx(tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}
	hash := tx.TxHash()

	return walletdb.Update(s.db, func(dbtx walletdb.ReadWriteTx) error {
		return dbtx.ReadWriteBucket(supportingTxBucket).Put(
			hash[:], buf.Bytes(),
		)
	})
}

// SupportingTx returns the cached transaction with the given hash, or
// signer.ErrSupportingTxNotFound.
func (s *Store) SupportingTx(hash chainhash.Hash) (*wire.MsgTx, error) {
	var raw []byte
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		v := tx.ReadBucket(supportingTxBucket).Get(hash[:])
		if v == nil {
			return fmt.Errorf("%w: %v",
				signer.ErrSupportingTxNotFound, hash)
		}

		// Values are only valid for the life of the transaction.
		raw = append([]byte(nil), v...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("supporting tx %v: %w", hash, err)
	}

	return tx, nil
}
