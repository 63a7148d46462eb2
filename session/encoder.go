package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionV1 = 1

// ErrSessionCorrupt is returned for blobs that fail to decode.
var ErrSessionCorrupt = errors.New("session corrupt")

// Encode packs a session as
// version(1) idLen(1) id emailLen(1) email refreshHash(32) createdAt(8) expiresAt(8).
// The session id is the Redis key and is not repeated in the blob.
func Encode(s *Session) ([]byte, error) {
	if len(s.IdentityID) > 255 {
		return nil, errors.New("identity id too long")
	}
	if len(s.Email) > 255 {
		return nil, errors.New("email too long")
	}

	var buf bytes.Buffer
	buf.Grow(3 + len(s.IdentityID) + len(s.Email) + 32 + 16)

	buf.WriteByte(sessionFormatVersionV1)
	buf.WriteByte(byte(len(s.IdentityID)))
	buf.WriteString(s.IdentityID)
	buf.WriteByte(byte(len(s.Email)))
	buf.WriteString(s.Email)
	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != sessionFormatVersionV1 {
		return nil, ErrSessionCorrupt
	}

	s := &Session{}
	if s.IdentityID, err = readShortString(r); err != nil {
		return nil, ErrSessionCorrupt
	}
	if s.Email, err = readShortString(r); err != nil {
		return nil, ErrSessionCorrupt
	}
	if _, err := io.ReadFull(r, s.RefreshHash[:]); err != nil {
		return nil, ErrSessionCorrupt
	}
	if err := binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrSessionCorrupt
	}
	if err := binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrSessionCorrupt
	}
	if r.Len() != 0 {
		return nil, ErrSessionCorrupt
	}

	return s, nil
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
