package models

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Message string `json:"message"`
}

// Source is a chunk cited by an answer.
type Source struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentName string  `json:"document_name,omitempty"`
	Text         string  `json:"text"`
	Offset       int     `json:"offset"`
	Score        float64 `json:"score"`
}

// Answer is the result of asking a question.
type Answer struct {
	Text string `json:"answer"`
	// Question is the standalone question used for retrieval. It differs
	// from the asked question only when condensing is enabled.
	Question string   `json:"question"`
	Sources  []Source `json:"sources"`
}

// SourcesFrom converts retrieved chunks into answer sources, preserving order.
func SourcesFrom(hits []ScoredChunk) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			ChunkID:      h.Chunk.ID,
			DocumentName: h.Chunk.DocumentName,
			Text:         h.Chunk.Text,
			Offset:       h.Chunk.Offset,
			Score:        h.Score,
		}
	}
	return out
}
