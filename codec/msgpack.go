package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/sdlq/letter"
)

// Msgpack encodes letters as MessagePack records.
type Msgpack struct{}

func (Msgpack) Encode(l *letter.Letter) ([]byte, error) {
	return msgpack.Marshal(FromLetter(l))
}

func (Msgpack) Decode(data []byte) (*letter.Letter, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r.Letter()
}

func (Msgpack) Name() string { return NameMsgpack }
