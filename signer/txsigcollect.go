// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/sigerr"
)

const (
	// TxSigCollectVersion is the version of the structured TxSigCollect
	// format written by SerializeTxSigCollect.
	TxSigCollectVersion uint32 = 2

	// TxSigCollectLegacyVersion is the version of the flat binary format
	// written by SerializeTxSigCollectLegacy.
	TxSigCollectLegacyVersion uint32 = 1

	// TxSigCollectIDLen is the length of the transaction id embedded in
	// the envelope header.
	TxSigCollectIDLen = 8

	// txSigCollectPrefix starts the envelope header.
	txSigCollectPrefix = "=====TXSIGCOLLECT-"

	// txSigCollectWidth is the width of the header, the footer and every
	// body line.
	txSigCollectWidth = 64

	// maxTxSigCollectPayload bounds the length prefix of a version 2
	// payload.
	maxTxSigCollectPayload = wire.MaxBlockPayload
)

var (
	// ErrTxSigCollectFormat is returned for a malformed envelope.
	ErrTxSigCollectFormat = errors.New("malformed txsigcollect envelope")

	// ErrTxSigCollectVersion is returned for an unknown payload version.
	ErrTxSigCollectVersion = errors.New("unsupported txsigcollect version")

	// ErrTxSigCollectID is returned when the id in the header does not
	// match the decoded transaction.
	ErrTxSigCollectID = errors.New("txsigcollect id mismatch")
)

// TxSigCollectID returns the short id of the transaction: the base58 encoding
// of the first six bytes of the double SHA256 of the transaction without
// input scripts and with a zero lock time. It only depends on the inputs,
// outputs, sequences and version, so every co-signer of a transaction
// computes the same id whatever its progress.
func (s *Signer) TxSigCollectID() string {
	tx := s.unsignedTx()
	tx.LockTime = 0

	var buf bytes.Buffer
	_ = tx.SerializeNoWitness(&buf)
	hash := chainhash.DoubleHashB(buf.Bytes())

	id := base58.Encode(hash[:6])
	if len(id) < TxSigCollectIDLen {
		id = strings.Repeat("1", TxSigCollectIDLen-len(id)) + id
	}

	return id[:TxSigCollectIDLen]
}

// SerializeTxSigCollect returns the signer state in the version 2
// TxSigCollect text format.
func (s *Signer) SerializeTxSigCollect() (string, error) {
	msg, err := encodeSignerState(s)
	if err != nil {
		return "", err
	}

	var payload bytes.Buffer
	err = binary.Write(&payload, binary.LittleEndian, TxSigCollectVersion)
	if err != nil {
		return "", err
	}
	if err := wire.WriteVarBytes(&payload, 0, msg); err != nil {
		return "", err
	}

	return encodeEnvelope(s.TxSigCollectID(), payload.Bytes()), nil
}

// SerializeTxSigCollectLegacy returns the signer in the version 1
// TxSigCollect text format, for consumers that do not read version 2.
// Version 1 carries signatures by public key rather than placeholder state,
// and has no room for recipient annotations, BIP32 roots or proprietary
// records.
func (s *Signer) SerializeTxSigCollectLegacy() (string, error) {
	payload, err := encodeLegacy(s)
	if err != nil {
		return "", err
	}

	return encodeEnvelope(s.TxSigCollectID(), payload), nil
}

// ParseTxSigCollect decodes a TxSigCollect text of either version and
// returns the signer it describes. The id in the header must match the
// decoded transaction.
func ParseTxSigCollect(text string, opts ...Option) (*Signer, error) {
	id, payload, err := decodeEnvelope(text)
	if err != nil {
		return nil, sigerr.New(sigerr.KindDeserialization,
			"txsigcollect envelope", err)
	}

	s, err := decodeTxSigCollect(payload, opts...)
	if err != nil {
		return nil, sigerr.New(sigerr.KindDeserialization,
			"txsigcollect payload", err)
	}

	if computed := s.TxSigCollectID(); computed != id {
		return nil, sigerr.Newf(sigerr.KindDeserialization,
			ErrTxSigCollectID, "header %s, transaction %s", id,
			computed)
	}

	return s, nil
}

// decodeTxSigCollect dispatches a payload on its version.
func decodeTxSigCollect(payload []byte, opts ...Option) (*Signer, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: %d byte payload",
			ErrTxSigCollectFormat, len(payload))
	}

	switch version := binary.LittleEndian.Uint32(payload); version {
	case TxSigCollectVersion:
		r := bytes.NewReader(payload[4:])
		msg, err := wire.ReadVarBytes(
			r, 0, maxTxSigCollectPayload, "txsigcollect state",
		)
		if err != nil {
			return nil, err
		}
		if r.Len() != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes",
				ErrTxSigCollectFormat, r.Len())
		}

		return decodeSignerState(msg, opts...)

	case TxSigCollectLegacyVersion:
		return decodeLegacy(payload, opts...)

	default:
		return nil, fmt.Errorf("%w: %d", ErrTxSigCollectVersion,
			version)
	}
}

// encodeEnvelope wraps payload in the text envelope.
func encodeEnvelope(id string, payload []byte) string {
	var b strings.Builder

	header := txSigCollectPrefix + id
	b.WriteString(header)
	b.WriteString(strings.Repeat("=", txSigCollectWidth-len(header)))
	b.WriteByte('\n')

	body := base64.StdEncoding.EncodeToString(payload)
	for len(body) > txSigCollectWidth {
		b.WriteString(body[:txSigCollectWidth])
		b.WriteByte('\n')
		body = body[txSigCollectWidth:]
	}
	if len(body) > 0 {
		b.WriteString(body)
		b.WriteByte('\n')
	}

	b.WriteString(strings.Repeat("=", txSigCollectWidth))
	b.WriteByte('\n')

	return b.String()
}

// decodeEnvelope returns the id and payload of an envelope. Blank lines
// around the envelope are ignored.
func decodeEnvelope(text string) (string, []byte, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r \t")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return "", nil, fmt.Errorf("%w: %d lines", ErrTxSigCollectFormat,
			len(lines))
	}

	header := lines[0]
	if len(header) != txSigCollectWidth ||
		!strings.HasPrefix(header, txSigCollectPrefix) {

		return "", nil, fmt.Errorf("%w: bad header %q",
			ErrTxSigCollectFormat, header)
	}
	id := header[len(txSigCollectPrefix) :
		len(txSigCollectPrefix)+TxSigCollectIDLen]
	padding := header[len(txSigCollectPrefix)+TxSigCollectIDLen:]
	if strings.Trim(padding, "=") != "" {
		return "", nil, fmt.Errorf("%w: bad header %q",
			ErrTxSigCollectFormat, header)
	}

	footer := lines[len(lines)-1]
	if footer != strings.Repeat("=", txSigCollectWidth) {
		return "", nil, fmt.Errorf("%w: bad footer %q",
			ErrTxSigCollectFormat, footer)
	}

	body := strings.Join(lines[1:len(lines)-1], "")
	payload, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTxSigCollectFormat, err)
	}

	return id, payload, nil
}
