package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// Transaction is a message plus one signature slot per required signer.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction wraps msg with zeroed signature slots.
func NewTransaction(msg *Message) *Transaction {
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}
}

// ParseTransaction decodes a wire-format transaction.
func ParseTransaction(data []byte) (*Transaction, error) {
	r := &byteReader{buf: data}
	numSigs, err := r.shortvec()
	if err != nil {
		return nil, err
	}
	sigs := make([]Signature, numSigs)
	for i := range sigs {
		b, err := r.readBytes(SignatureSize)
		if err != nil {
			return nil, err
		}
		copy(sigs[i][:], b)
	}

	msg, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, r.remaining())
	}
	if len(sigs) != int(msg.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("%w: %d signatures for %d signers",
			ErrMalformedMessage, len(sigs), msg.Header.NumRequiredSignatures)
	}
	return &Transaction{Signatures: sigs, Message: *msg}, nil
}

// DecodeTransactionBase64 decodes a base64 wire-format transaction.
func DecodeTransactionBase64(s string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedMessage, err)
	}
	return ParseTransaction(raw)
}

// MarshalBinary serializes the transaction.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, 1+len(tx.Signatures)*SignatureSize+len(msg))
	b = appendShortvec(b, len(tx.Signatures))
	for _, s := range tx.Signatures {
		b = append(b, s[:]...)
	}
	return append(b, msg...), nil
}

// Base64 returns the base64 wire encoding.
func (tx *Transaction) Base64() (string, error) {
	b, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// MessageBytes returns the serialized message, the payload every signer signs.
func (tx *Transaction) MessageBytes() ([]byte, error) {
	return tx.Message.MarshalBinary()
}

// SignerIndex returns the signature slot of pk or -1.
func (tx *Transaction) SignerIndex(pk PublicKey) int {
	for i, s := range tx.Message.Signers() {
		if s == pk {
			return i
		}
	}
	return -1
}

// SetSignature places sig in the slot of signer pk.
func (tx *Transaction) SetSignature(pk PublicKey, sig Signature) error {
	i := tx.SignerIndex(pk)
	if i < 0 || i >= len(tx.Signatures) {
		return fmt.Errorf("%s is not a signer of the transaction", pk)
	}
	tx.Signatures[i] = sig
	return nil
}

// VerifySignature checks the signature slot of signer pk over the message.
func (tx *Transaction) VerifySignature(pk PublicKey) (bool, error) {
	i := tx.SignerIndex(pk)
	if i < 0 || i >= len(tx.Signatures) {
		return false, fmt.Errorf("%s is not a signer of the transaction", pk)
	}
	msg, err := tx.MessageBytes()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pk[:], msg, tx.Signatures[i][:]), nil
}
