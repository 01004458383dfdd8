package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const formatVersionV1 = 1

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session: corrupt record")

// Encode serialises s into the v1 binary layout:
//
//	version(1) userID(8) usernameLen(1) username createdAt(8) expiresAt(8)
//	messageCount(2) { level(1) textLen(2) text }...
func Encode(s *Session) ([]byte, error) {
	if len(s.Username) > math.MaxUint8 {
		return nil, errors.New("session: username too long")
	}
	if len(s.Messages) > math.MaxUint16 {
		return nil, errors.New("session: too many messages")
	}

	var buf bytes.Buffer
	buf.WriteByte(formatVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, s.UserID)
	buf.WriteByte(byte(len(s.Username)))
	buf.WriteString(s.Username)
	_ = binary.Write(&buf, binary.BigEndian, s.CreatedAt)
	_ = binary.Write(&buf, binary.BigEndian, s.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(s.Messages)))

	for _, m := range s.Messages {
		if len(m.Text) > math.MaxUint16 {
			return nil, errors.New("session: message too long")
		}
		buf.WriteByte(byte(m.Level))
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(m.Text)))
		buf.WriteString(m.Text)
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode. The session id is not part of the
// blob; callers set it from the key.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != formatVersionV1 {
		return nil, ErrCorrupt
	}

	s := &Session{}
	if err := binary.Read(r, binary.BigEndian, &s.UserID); err != nil {
		return nil, ErrCorrupt
	}

	username, err := readString8(r)
	if err != nil {
		return nil, ErrCorrupt
	}
	s.Username = username

	if err := binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrCorrupt
	}
	if err := binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrCorrupt
	}

	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, ErrCorrupt
	}
	if count > 0 {
		s.Messages = make([]Message, 0, count)
	}
	for i := 0; i < int(count); i++ {
		level, err := r.ReadByte()
		if err != nil {
			return nil, ErrCorrupt
		}
		var n uint16
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, ErrCorrupt
		}
		text := make([]byte, n)
		if _, err := io.ReadFull(r, text); err != nil {
			return nil, ErrCorrupt
		}
		s.Messages = append(s.Messages, Message{Level: Level(level), Text: string(text)})
	}

	if r.Len() != 0 {
		return nil, ErrCorrupt
	}
	return s, nil
}

func readString8(r *bytes.Reader) (string, error) {
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
