package timelock

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"agora/pkg/chain"
)

// CallTypeCall is the only supported call type byte. Delegate-style calls
// are not executed by the timelock.
const CallTypeCall = 0x00

const (
	valueWidth  = 32
	lengthWidth = 32
	entryHeader = 1 + chain.AddressLength + valueWidth + lengthWidth
)

var (
	// ErrEmptyBatch indicates an operation without sub-calls
	ErrEmptyBatch = errors.New("operation has no calls")

	// ErrMalformedPayload indicates a batch payload that does not decode
	ErrMalformedPayload = errors.New("malformed batch payload")
)

// Call is one sub-call of a timelock operation: a target address, an
// attached fund value and opaque calldata the target interprets.
type Call struct {
	Target string `json:"target"`
	Value  uint64 `json:"value"`
	Data   []byte `json:"data"`
}

// EncodeCalls packs calls into a single batch payload. Each entry is
// [1-byte call type][20-byte target][32-byte value][32-byte length][data].
// A single call is encoded the same way; the executor just skips the batch
// wrapper when dispatching it.
func EncodeCalls(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	var payload []byte
	for _, call := range calls {
		target, err := chain.AddressBytes(call.Target)
		if err != nil {
			return nil, fmt.Errorf("call target %q: %w", call.Target, err)
		}
		entry := make([]byte, entryHeader+len(call.Data))
		entry[0] = CallTypeCall
		copy(entry[1:], target)
		// Values and lengths occupy the low 8 bytes of their 32-byte
		// big-endian fields.
		binary.BigEndian.PutUint64(entry[1+chain.AddressLength+valueWidth-8:], call.Value)
		binary.BigEndian.PutUint64(entry[entryHeader-8:], uint64(len(call.Data)))
		copy(entry[entryHeader:], call.Data)
		payload = append(payload, entry...)
	}
	return payload, nil
}

// DecodeCalls unpacks a batch payload produced by EncodeCalls.
func DecodeCalls(payload []byte) ([]Call, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyBatch
	}
	var calls []Call
	for offset := 0; offset < len(payload); {
		if len(payload)-offset < entryHeader {
			return nil, fmt.Errorf("%w: truncated entry header at offset %d", ErrMalformedPayload, offset)
		}
		entry := payload[offset:]
		if entry[0] != CallTypeCall {
			return nil, fmt.Errorf("%w: unsupported call type %d", ErrMalformedPayload, entry[0])
		}
		target, err := chain.AddressFromBytes(entry[1 : 1+chain.AddressLength])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		// Values and lengths wider than 64 bits are not representable here.
		for _, b := range entry[1+chain.AddressLength : 1+chain.AddressLength+valueWidth-8] {
			if b != 0 {
				return nil, fmt.Errorf("%w: value overflows 64 bits", ErrMalformedPayload)
			}
		}
		for _, b := range entry[1+chain.AddressLength+valueWidth : entryHeader-8] {
			if b != 0 {
				return nil, fmt.Errorf("%w: length overflows 64 bits", ErrMalformedPayload)
			}
		}
		value := binary.BigEndian.Uint64(entry[1+chain.AddressLength+valueWidth-8 : 1+chain.AddressLength+valueWidth])
		dataLen := binary.BigEndian.Uint64(entry[entryHeader-8 : entryHeader])
		if uint64(len(payload)-offset-entryHeader) < dataLen {
			return nil, fmt.Errorf("%w: truncated calldata at offset %d", ErrMalformedPayload, offset)
		}
		data := make([]byte, dataLen)
		copy(data, entry[entryHeader:entryHeader+int(dataLen)])
		calls = append(calls, Call{Target: target, Value: value, Data: data})
		offset += entryHeader + int(dataLen)
	}
	return calls, nil
}

// HashOperation derives the deterministic operation id from the encoded
// batch payload, the predecessor operation id and the salt. Identical
// operations collide on purpose; callers vary the salt to schedule the same
// batch twice.
func HashOperation(calls []Call, predecessor, salt string) (string, error) {
	payload, err := EncodeCalls(calls)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(predecessor))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil)), nil
}
