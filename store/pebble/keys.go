package pebblestore

import (
	"encoding/binary"
	"errors"
)

// Key layout:
//
//	l/<len:4><sequence id><index:8>  -> encoded letter record
//	i/<letter id>                    -> primary key of the letter
//
// The length prefix keeps one sequence's range from overlapping another
// whose ID shares a prefix. Indexes are big-endian so a range scan yields
// letters in index order.
var (
	letterPrefix = []byte("l/")
	idPrefix     = []byte("i/")
)

func sequencePrefix(seqID string) []byte {
	k := make([]byte, 0, len(letterPrefix)+4+len(seqID)+8)
	k = append(k, letterPrefix...)
	k = binary.BigEndian.AppendUint32(k, uint32(len(seqID)))
	return append(k, seqID...)
}

func letterKey(seqID string, index uint64) []byte {
	return binary.BigEndian.AppendUint64(sequencePrefix(seqID), index)
}

func idKey(letterID string) []byte {
	k := make([]byte, 0, len(idPrefix)+len(letterID))
	k = append(k, idPrefix...)
	return append(k, letterID...)
}

var errBadKey = errors.New("malformed letter key")

// parseLetterKey splits a primary key into its sequence ID and index.
func parseLetterKey(k []byte) (string, uint64, error) {
	rest := k[len(letterPrefix):]
	if len(rest) < 4 {
		return "", 0, errBadKey
	}
	n := int(binary.BigEndian.Uint32(rest))
	rest = rest[4:]
	if len(rest) != n+8 {
		return "", 0, errBadKey
	}
	return string(rest[:n]), binary.BigEndian.Uint64(rest[n:]), nil
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
