package codec

import (
	"encoding/json"

	"github.com/xraph/sdlq/letter"
)

// JSON encodes letters as JSON records.
type JSON struct{}

func (JSON) Encode(l *letter.Letter) ([]byte, error) {
	return json.Marshal(FromLetter(l))
}

func (JSON) Decode(data []byte) (*letter.Letter, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r.Letter()
}

func (JSON) Name() string { return NameJSON }
