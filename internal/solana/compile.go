package solana

import (
	"fmt"
)

// lookupTableMetaSize is the header length of an address lookup table
// account; addresses follow it.
const lookupTableMetaSize = 56

// AddressLookupTable is the decoded content of an on-chain lookup table.
type AddressLookupTable struct {
	Key       PublicKey
	Addresses []PublicKey
}

// ParseAddressLookupTable decodes lookup table account data.
func ParseAddressLookupTable(key PublicKey, data []byte) (AddressLookupTable, error) {
	if len(data) < lookupTableMetaSize {
		return AddressLookupTable{}, fmt.Errorf("lookup table %s: data too short (%d bytes)", key, len(data))
	}
	body := data[lookupTableMetaSize:]
	if len(body)%PublicKeySize != 0 {
		return AddressLookupTable{}, fmt.Errorf("lookup table %s: address data not a multiple of %d", key, PublicKeySize)
	}

	addrs := make([]PublicKey, len(body)/PublicKeySize)
	for i := range addrs {
		copy(addrs[i][:], body[i*PublicKeySize:])
	}
	return AddressLookupTable{Key: key, Addresses: addrs}, nil
}

type keyMeta struct {
	isSigner   bool
	isWritable bool
	isInvoked  bool
}

// compiledKeys tracks account flags in first-seen order.
type compiledKeys struct {
	order []PublicKey
	meta  map[PublicKey]*keyMeta
}

func newCompiledKeys(payer PublicKey, instructions []Instruction) *compiledKeys {
	ck := &compiledKeys{meta: make(map[PublicKey]*keyMeta)}
	p := ck.get(payer)
	p.isSigner = true
	p.isWritable = true

	for _, ix := range instructions {
		ck.get(ix.ProgramID).isInvoked = true
		for _, a := range ix.Accounts {
			m := ck.get(a.PublicKey)
			m.isSigner = m.isSigner || a.IsSigner
			m.isWritable = m.isWritable || a.IsWritable
		}
	}
	return ck
}

func (ck *compiledKeys) get(pk PublicKey) *keyMeta {
	m, ok := ck.meta[pk]
	if !ok {
		m = &keyMeta{}
		ck.meta[pk] = m
		ck.order = append(ck.order, pk)
	}
	return m
}

// drain moves non-signer, non-invoked keys found in table out of the static
// set and returns the lookup, or false when the table contributes nothing.
func (ck *compiledKeys) drain(table AddressLookupTable) (MessageAddressTableLookup, []PublicKey, []PublicKey, bool) {
	index := make(map[PublicKey]uint8, len(table.Addresses))
	for i := len(table.Addresses) - 1; i >= 0; i-- {
		if i <= 255 {
			index[table.Addresses[i]] = uint8(i)
		}
	}

	lookup := MessageAddressTableLookup{AccountKey: table.Key}
	var writable, readonly []PublicKey
	kept := ck.order[:0:0]

	for _, pk := range ck.order {
		m := ck.meta[pk]
		idx, found := index[pk]
		if !found || m.isSigner || m.isInvoked {
			kept = append(kept, pk)
			continue
		}
		if m.isWritable {
			lookup.WritableIndexes = append(lookup.WritableIndexes, idx)
			writable = append(writable, pk)
		} else {
			lookup.ReadonlyIndexes = append(lookup.ReadonlyIndexes, idx)
			readonly = append(readonly, pk)
		}
		delete(ck.meta, pk)
	}
	ck.order = kept

	ok := len(lookup.WritableIndexes)+len(lookup.ReadonlyIndexes) > 0
	return lookup, writable, readonly, ok
}

// CompileMessageV0 compiles instructions into a v0 message paid by payer,
// moving eligible accounts into the given lookup tables.
func CompileMessageV0(payer PublicKey, instructions []Instruction, blockhash Hash, tables []AddressLookupTable) (*Message, error) {
	ck := newCompiledKeys(payer, instructions)

	var (
		lookups        []MessageAddressTableLookup
		lookupWritable []PublicKey
		lookupReadonly []PublicKey
	)
	for _, t := range tables {
		l, w, r, ok := ck.drain(t)
		if !ok {
			continue
		}
		lookups = append(lookups, l)
		lookupWritable = append(lookupWritable, w...)
		lookupReadonly = append(lookupReadonly, r...)
	}

	var writableSigners, readonlySigners, writableOthers, readonlyOthers []PublicKey
	for _, pk := range ck.order {
		m := ck.meta[pk]
		switch {
		case m.isSigner && m.isWritable:
			writableSigners = append(writableSigners, pk)
		case m.isSigner:
			readonlySigners = append(readonlySigners, pk)
		case m.isWritable:
			writableOthers = append(writableOthers, pk)
		default:
			readonlyOthers = append(readonlyOthers, pk)
		}
	}

	static := make([]PublicKey, 0, len(ck.order))
	static = append(static, writableSigners...)
	static = append(static, readonlySigners...)
	static = append(static, writableOthers...)
	static = append(static, readonlyOthers...)

	numSigners := len(writableSigners) + len(readonlySigners)
	if numSigners > 255 || len(static) > 256 {
		return nil, fmt.Errorf("too many accounts: %d static, %d signers", len(static), numSigners)
	}

	all := make([]PublicKey, 0, len(static)+len(lookupWritable)+len(lookupReadonly))
	all = append(all, static...)
	all = append(all, lookupWritable...)
	all = append(all, lookupReadonly...)
	if len(all) > 256 {
		return nil, fmt.Errorf("too many accounts: %d", len(all))
	}
	position := make(map[PublicKey]uint8, len(all))
	for i, pk := range all {
		position[pk] = uint8(i)
	}

	compiled := make([]CompiledInstruction, len(instructions))
	for i, ix := range instructions {
		accounts := make([]uint8, len(ix.Accounts))
		for j, a := range ix.Accounts {
			accounts[j] = position[a.PublicKey]
		}
		data := make([]byte, len(ix.Data))
		copy(data, ix.Data)
		compiled[i] = CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID],
			Accounts:       accounts,
			Data:           data,
		}
	}

	return &Message{
		Version: MessageVersionV0,
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(numSigners),
			NumReadonlySignedAccounts:   uint8(len(readonlySigners)),
			NumReadonlyUnsignedAccounts: uint8(len(readonlyOthers)),
		},
		AccountKeys:         static,
		RecentBlockhash:     blockhash,
		Instructions:        compiled,
		AddressTableLookups: lookups,
	}, nil
}

// DecompileInstructions resolves a message's compiled instructions against
// its full account key list.
func DecompileInstructions(m *Message, keys []PublicKey) ([]Instruction, error) {
	out := make([]Instruction, len(m.Instructions))
	for i, ci := range m.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("instruction %d: program index out of range", i)
		}
		metas := make([]AccountMeta, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("instruction %d: account index out of range", i)
			}
			metas[j] = AccountMeta{
				PublicKey:  keys[idx],
				IsSigner:   m.IsSigner(int(idx)),
				IsWritable: m.IsWritable(int(idx)),
			}
		}
		out[i] = Instruction{
			ProgramID: keys[ci.ProgramIDIndex],
			Accounts:  metas,
			Data:      ci.Data,
		}
	}
	return out, nil
}
