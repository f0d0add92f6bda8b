package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultWatermark is embedded in every hashed payload unless overridden.
const DefaultWatermark = "Demonstration record - non-binding"

// BlockVersion is written alongside encoded blocks so the shape can evolve.
const BlockVersion = 1

// Block is a single attestation in the chain. Blocks are immutable once
// appended.
type Block struct {
	Index             int       `json:"index"`
	RecordID          string    `json:"record_id"`
	EntityKind        string    `json:"entity_kind"`
	Content           string    `json:"content"`
	Fingerprint       string    `json:"fingerprint"`
	ParentFingerprint *string   `json:"parent_fingerprint"` // nil for genesis
	Actor             string    `json:"actor"`
	CreatedAt         time.Time `json:"created_at"`
	Reason            string    `json:"reason"`
	Watermark         string    `json:"watermark"`
	Reference         string    `json:"reference"`
}

// Parent returns the parent fingerprint, or "" for the genesis block.
func (b *Block) Parent() string {
	if b.ParentFingerprint == nil {
		return ""
	}
	return *b.ParentFingerprint
}

// Clone returns a deep copy so callers cannot alter stored blocks.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := *b
	if b.ParentFingerprint != nil {
		p := *b.ParentFingerprint
		c.ParentFingerprint = &p
	}
	return &c
}

// ReferenceFor is the display label of the block at index.
func ReferenceFor(index int) string {
	return fmt.Sprintf("BLOCK-%04d", index)
}

type encodedBlock struct {
	Version int `json:"version"`
	*Block
}

// EncodeBlock serialises b for key-value backends.
func EncodeBlock(b *Block) ([]byte, error) {
	return json.Marshal(encodedBlock{Version: BlockVersion, Block: b})
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(data []byte) (*Block, error) {
	enc := encodedBlock{Block: &Block{}}
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if enc.Version != BlockVersion {
		return nil, fmt.Errorf("decode block: unsupported version %d", enc.Version)
	}
	return enc.Block, nil
}
