package sdlq

import "github.com/xraph/sdlq/id"

// ID is the primary identifier type for sdlq entities.
type ID = id.ID

// LetterID identifies a single dead letter.
type LetterID = id.LetterID
