package solana

import (
	"errors"
	"fmt"
)

// MessageVersion identifies the message wire format.
type MessageVersion int

const (
	MessageVersionLegacy MessageVersion = -1
	MessageVersionV0     MessageVersion = 0
)

const versionPrefixMask = 0x80

// ErrMalformedMessage is returned for messages that cannot be decoded.
var ErrMalformedMessage = errors.New("malformed transaction message")

// MessageHeader describes how many of the static account keys sign and
// which are read-only.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into the message's
// account index space.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// MessageAddressTableLookup selects addresses from an on-chain lookup table.
type MessageAddressTableLookup struct {
	AccountKey      PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is a legacy or v0 transaction message.
type Message struct {
	Version             MessageVersion
	Header              MessageHeader
	AccountKeys         []PublicKey // static keys
	RecentBlockhash     Hash
	Instructions        []CompiledInstruction
	AddressTableLookups []MessageAddressTableLookup // v0 only
}

// FeePayer returns the first static key.
func (m *Message) FeePayer() (PublicKey, bool) {
	if len(m.AccountKeys) == 0 {
		return PublicKey{}, false
	}
	return m.AccountKeys[0], true
}

// Signers returns the static keys that must sign, in signature order.
func (m *Message) Signers() []PublicKey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return m.AccountKeys[:n]
}

// IsSigner reports whether the account at index i signs.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// NumLookupAccounts returns the number of accounts loaded via lookup tables.
func (m *Message) NumLookupAccounts() int {
	n := 0
	for _, l := range m.AddressTableLookups {
		n += len(l.WritableIndexes) + len(l.ReadonlyIndexes)
	}
	return n
}

// IsWritable reports whether the account at index i of the full index space
// (static keys, then lookup writable, then lookup readonly) is writable.
func (m *Message) IsWritable(i int) bool {
	numStatic := len(m.AccountKeys)
	if i >= numStatic {
		j := i - numStatic
		for _, l := range m.AddressTableLookups {
			if j < len(l.WritableIndexes) {
				return true
			}
			j -= len(l.WritableIndexes)
		}
		return false
	}

	numSigners := int(m.Header.NumRequiredSignatures)
	if i < numSigners {
		return i < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	return i < numStatic-int(m.Header.NumReadonlyUnsignedAccounts)
}

// ResolveAccountKeys expands the message's full account index space using
// the given lookup table contents keyed by table address.
func (m *Message) ResolveAccountKeys(tables map[PublicKey][]PublicKey) ([]PublicKey, error) {
	keys := make([]PublicKey, 0, len(m.AccountKeys)+m.NumLookupAccounts())
	keys = append(keys, m.AccountKeys...)

	var readonly []PublicKey
	for _, l := range m.AddressTableLookups {
		addrs, ok := tables[l.AccountKey]
		if !ok {
			return nil, fmt.Errorf("lookup table %s not provided", l.AccountKey)
		}
		for _, idx := range l.WritableIndexes {
			if int(idx) >= len(addrs) {
				return nil, fmt.Errorf("lookup table %s: index %d out of range", l.AccountKey, idx)
			}
			keys = append(keys, addrs[idx])
		}
		for _, idx := range l.ReadonlyIndexes {
			if int(idx) >= len(addrs) {
				return nil, fmt.Errorf("lookup table %s: index %d out of range", l.AccountKey, idx)
			}
			readonly = append(readonly, addrs[idx])
		}
	}
	return append(keys, readonly...), nil
}

// MarshalBinary serializes the message in its wire format.
func (m *Message) MarshalBinary() ([]byte, error) {
	if len(m.AccountKeys) > 256 {
		return nil, fmt.Errorf("too many static account keys: %d", len(m.AccountKeys))
	}

	b := make([]byte, 0, 256)
	if m.Version == MessageVersionV0 {
		b = append(b, versionPrefixMask)
	}
	b = append(b,
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	)

	b = appendShortvec(b, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		b = append(b, k[:]...)
	}
	b = append(b, m.RecentBlockhash[:]...)

	b = appendShortvec(b, len(m.Instructions))
	for _, ix := range m.Instructions {
		b = append(b, ix.ProgramIDIndex)
		b = appendShortvec(b, len(ix.Accounts))
		b = append(b, ix.Accounts...)
		b = appendShortvec(b, len(ix.Data))
		b = append(b, ix.Data...)
	}

	if m.Version == MessageVersionV0 {
		b = appendShortvec(b, len(m.AddressTableLookups))
		for _, l := range m.AddressTableLookups {
			b = append(b, l.AccountKey[:]...)
			b = appendShortvec(b, len(l.WritableIndexes))
			b = append(b, l.WritableIndexes...)
			b = appendShortvec(b, len(l.ReadonlyIndexes))
			b = append(b, l.ReadonlyIndexes...)
		}
	}
	return b, nil
}

// UnmarshalMessage decodes a legacy or v0 message. Trailing bytes are an error.
func UnmarshalMessage(data []byte) (*Message, error) {
	r := &byteReader{buf: data}
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, r.remaining())
	}
	return m, nil
}

func readMessage(r *byteReader) (*Message, error) {
	m := &Message{Version: MessageVersionLegacy}

	first, err := r.peek()
	if err != nil {
		return nil, err
	}
	if first&versionPrefixMask != 0 {
		version := first &^ versionPrefixMask
		if version != 0 {
			return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedMessage, version)
		}
		r.pos++
		m.Version = MessageVersionV0
	}

	header, err := r.readBytes(3)
	if err != nil {
		return nil, err
	}
	m.Header = MessageHeader{
		NumRequiredSignatures:       header[0],
		NumReadonlySignedAccounts:   header[1],
		NumReadonlyUnsignedAccounts: header[2],
	}

	numKeys, err := r.shortvec()
	if err != nil {
		return nil, err
	}
	m.AccountKeys = make([]PublicKey, numKeys)
	for i := range m.AccountKeys {
		if m.AccountKeys[i], err = r.publicKey(); err != nil {
			return nil, err
		}
	}
	if int(m.Header.NumRequiredSignatures) > numKeys ||
		int(m.Header.NumReadonlySignedAccounts) > int(m.Header.NumRequiredSignatures) ||
		int(m.Header.NumReadonlyUnsignedAccounts) > numKeys-int(m.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("%w: header inconsistent with %d keys", ErrMalformedMessage, numKeys)
	}

	if m.RecentBlockhash, err = r.publicKey(); err != nil {
		return nil, err
	}

	numIx, err := r.shortvec()
	if err != nil {
		return nil, err
	}
	m.Instructions = make([]CompiledInstruction, numIx)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if ix.ProgramIDIndex, err = r.readByte(); err != nil {
			return nil, err
		}
		if ix.Accounts, err = r.vec(); err != nil {
			return nil, err
		}
		if ix.Data, err = r.vec(); err != nil {
			return nil, err
		}
	}

	if m.Version == MessageVersionV0 {
		numLookups, err := r.shortvec()
		if err != nil {
			return nil, err
		}
		m.AddressTableLookups = make([]MessageAddressTableLookup, numLookups)
		for i := range m.AddressTableLookups {
			l := &m.AddressTableLookups[i]
			if l.AccountKey, err = r.publicKey(); err != nil {
				return nil, err
			}
			if l.WritableIndexes, err = r.vec(); err != nil {
				return nil, err
			}
			if l.ReadonlyIndexes, err = r.vec(); err != nil {
				return nil, err
			}
		}
	}

	total := len(m.AccountKeys) + m.NumLookupAccounts()
	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= total {
			return nil, fmt.Errorf("%w: instruction %d program index out of range", ErrMalformedMessage, i)
		}
		for _, a := range ix.Accounts {
			if int(a) >= total {
				return nil, fmt.Errorf("%w: instruction %d account index out of range", ErrMalformedMessage, i)
			}
		}
	}
	return m, nil
}

// byteReader is a bounds-checked cursor over a wire buffer.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) peek() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: unexpected end of input", ErrMalformedMessage)
	}
	return r.buf[r.pos], nil
}

func (r *byteReader) readByte() (byte, error) {
	b, err := r.peek()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

func (r *byteReader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrMalformedMessage)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *byteReader) shortvec() (int, error) {
	v, n, err := readShortvec(r.buf[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) vec() ([]byte, error) {
	n, err := r.shortvec()
	if err != nil {
		return nil, err
	}
	return r.readBytes(n)
}

func (r *byteReader) publicKey() (PublicKey, error) {
	var pk PublicKey
	b, err := r.readBytes(PublicKeySize)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}
