package core

import (
	"encoding/json"
	"fmt"
)

// Serialize encodes b as JSON for storage and network transport.
func (b *Block) Serialize() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("core: serialize block: %w", err)
	}
	return data, nil
}

// DeserializeBlock decodes a block previously produced by Block.Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("core: deserialize block: %w", err)
	}
	return &b, nil
}
