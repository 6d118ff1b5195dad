package olm

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const messageVersion = 3

// Field numbers of a standard message body.
const (
	fieldRatchetKey     protowire.Number = 1
	fieldChainIndex     protowire.Number = 2
	fieldPreviousLength protowire.Number = 3
	fieldCiphertext     protowire.Number = 4
)

// Field numbers of a pre-key message body.
const (
	fieldOneTimeKey  protowire.Number = 1
	fieldBaseKey     protowire.Number = 2
	fieldIdentityKey protowire.Number = 3
	fieldMessage     protowire.Number = 4
)

var (
	ErrBadMessageVersion = errors.New("olm: bad message version")
	ErrBadMessageFormat  = errors.New("olm: bad message format")
)

type message struct {
	RatchetKey     []byte
	ChainIndex     uint32
	PreviousLength uint32
	Ciphertext     []byte
}

type preKeyMessage struct {
	OneTimeKey  []byte
	BaseKey     []byte
	IdentityKey []byte
	Message     []byte
}

func (m message) encode() []byte {
	b := []byte{messageVersion}
	b = protowire.AppendTag(b, fieldRatchetKey, protowire.BytesType)
	b = protowire.AppendBytes(b, m.RatchetKey)
	b = protowire.AppendTag(b, fieldChainIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ChainIndex))
	b = protowire.AppendTag(b, fieldPreviousLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.PreviousLength))
	b = protowire.AppendTag(b, fieldCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Ciphertext)
	return b
}

func decodeMessage(b []byte) (message, error) {
	var m message
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldRatchetKey && typ == protowire.BytesType:
			return consumeBytes(v, &m.RatchetKey)
		case num == fieldChainIndex && typ == protowire.VarintType:
			return consumeUint32(v, &m.ChainIndex)
		case num == fieldPreviousLength && typ == protowire.VarintType:
			return consumeUint32(v, &m.PreviousLength)
		case num == fieldCiphertext && typ == protowire.BytesType:
			return consumeBytes(v, &m.Ciphertext)
		}
		return -1, nil
	})
	if err != nil {
		return message{}, err
	}
	if len(m.RatchetKey) != 32 || len(m.Ciphertext) == 0 {
		return message{}, ErrBadMessageFormat
	}
	return m, nil
}

func (p preKeyMessage) encode() []byte {
	b := []byte{messageVersion}
	b = protowire.AppendTag(b, fieldOneTimeKey, protowire.BytesType)
	b = protowire.AppendBytes(b, p.OneTimeKey)
	b = protowire.AppendTag(b, fieldBaseKey, protowire.BytesType)
	b = protowire.AppendBytes(b, p.BaseKey)
	b = protowire.AppendTag(b, fieldIdentityKey, protowire.BytesType)
	b = protowire.AppendBytes(b, p.IdentityKey)
	b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Message)
	return b
}

func decodePreKeyMessage(b []byte) (preKeyMessage, error) {
	var p preKeyMessage
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case fieldOneTimeKey:
			return consumeBytes(v, &p.OneTimeKey)
		case fieldBaseKey:
			return consumeBytes(v, &p.BaseKey)
		case fieldIdentityKey:
			return consumeBytes(v, &p.IdentityKey)
		case fieldMessage:
			return consumeBytes(v, &p.Message)
		}
		return -1, nil
	})
	if err != nil {
		return preKeyMessage{}, err
	}
	if len(p.OneTimeKey) != 32 || len(p.BaseKey) != 32 || len(p.IdentityKey) != 32 || len(p.Message) == 0 {
		return preKeyMessage{}, ErrBadMessageFormat
	}
	return p, nil
}

// walk checks the version byte and calls field for every field. field returns
// the number of bytes it consumed, or -1 to have the field skipped.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	if len(b) == 0 {
		return ErrBadMessageFormat
	}
	if b[0] != messageVersion {
		return fmt.Errorf("%w: %d", ErrBadMessageVersion, b[0])
	}
	b = b[1:]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrBadMessageFormat, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrBadMessageFormat, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeBytes(b []byte, dst *[]byte) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadMessageFormat, protowire.ParseError(n))
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeUint32(b []byte, dst *uint32) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadMessageFormat, protowire.ParseError(n))
	}
	if v > 1<<32-1 {
		return 0, ErrBadMessageFormat
	}
	*dst = uint32(v)
	return n, nil
}
