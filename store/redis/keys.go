package redis

// Redis key naming conventions for letter data. All keys start with the
// store prefix ("sdlq:" unless overridden) so several processing groups
// can share one Redis.

// letterKey returns the key holding an encoded letter: {prefix}letter:{id}
func (s *Store) letterKey(id string) string { return s.prefix + "letter:" + id }

// sequenceKey returns the Sorted Set of letter IDs scored by index:
// {prefix}seq:{sequenceID}
func (s *Store) sequenceKey(seqID string) string { return s.prefix + "seq:" + seqID }

// sequencesKey is the Set tracking every non-empty sequence ID.
func (s *Store) sequencesKey() string { return s.prefix + "sequences" }
