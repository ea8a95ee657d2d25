package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const recordFormatVersionV1 = 1

var errCorruptRecord = errors.New("corrupt session record")

// Encode serializes r into the compact binary form kept in Redis:
// version(1) principalLen(1) principal tokenIDLen(1) tokenID issuedAt(8) expiresAt(8).
func Encode(r *Record) ([]byte, error) {
	if len(r.Principal) == 0 || len(r.Principal) > 255 {
		return nil, errors.New("principal length out of range")
	}
	if len(r.TokenID) == 0 || len(r.TokenID) > 255 {
		return nil, errors.New("token id length out of range")
	}

	var buf bytes.Buffer
	buf.Grow(3 + len(r.Principal) + len(r.TokenID) + 16)

	buf.WriteByte(recordFormatVersionV1)
	buf.WriteByte(byte(len(r.Principal)))
	buf.WriteString(r.Principal)
	buf.WriteByte(byte(len(r.TokenID)))
	buf.WriteString(r.TokenID)

	if err := binary.Write(&buf, binary.BigEndian, r.IssuedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses bytes produced by [Encode].
func Decode(data []byte) (*Record, error) {
	buf := bytes.NewReader(data)

	version, err := buf.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recordFormatVersionV1 {
		return nil, errors.New("unsupported session record version")
	}

	principal, err := readShortString(buf)
	if err != nil || principal == "" {
		return nil, errCorruptRecord
	}
	tokenID, err := readShortString(buf)
	if err != nil || tokenID == "" {
		return nil, errCorruptRecord
	}

	var issuedAt, expiresAt int64
	if err := binary.Read(buf, binary.BigEndian, &issuedAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(buf, binary.BigEndian, &expiresAt); err != nil {
		return nil, errCorruptRecord
	}
	if buf.Len() != 0 {
		return nil, errCorruptRecord
	}

	return &Record{
		Principal: principal,
		TokenID:   tokenID,
		IssuedAt:  time.UnixMilli(issuedAt),
		ExpiresAt: time.UnixMilli(expiresAt),
	}, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
