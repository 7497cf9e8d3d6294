package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"google.golang.org/genai"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// vectorDim is the keyword-hash vector width. Stored vectors of any
// other width came from an embedding model.
const vectorDim = 64

// Embedder upgrades recall vectors through an embedding model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectorize produces the recall vector for a hypothesis: the embedder's
// output when one is attached and reachable, the keyword-hash vector
// otherwise. Vectors of different provenance score zero against each
// other, so one store holds both kinds safely.
func Vectorize(ctx context.Context, emb Embedder, text string) []float32 {
	if emb != nil {
		v, err := emb.Embed(ctx, text)
		if err == nil && len(v) > 0 {
			return v
		}
		if err != nil {
			logging.Memory("embedding unavailable, using hash vector: %v", err)
		}
	}
	return HashVector(text)
}

// HashVector maps a hypothesis onto a unit vector of hashed keyword
// counts. Deterministic, so equal texts always land on equal vectors.
func HashVector(text string) []float32 {
	counts := make([]float32, vectorDim)
	for _, w := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		counts[h.Sum32()%vectorDim]++
	}

	var mag float64
	for _, c := range counts {
		mag += float64(c) * float64(c)
	}
	if mag == 0 {
		return counts
	}
	norm := float32(math.Sqrt(mag))
	for i := range counts {
		counts[i] /= norm
	}
	return counts
}

// tokenize lowercases and splits on non-alphanumerics, dropping words too
// short to carry signal.
func tokenize(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() >= 3 {
			words = append(words, b.String())
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, ma, mb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		ma += float64(a[i]) * float64(a[i])
		mb += float64(b[i]) * float64(b[i])
	}
	if ma == 0 || mb == 0 {
		return 0
	}
	return dot / (math.Sqrt(ma) * math.Sqrt(mb))
}

// =============================================================================
// GEMINI EMBEDDING UPGRADE
// =============================================================================

// GenAIEmbedder produces recall vectors through the Gemini embedding API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates the embedding client. Model defaults to
// gemini-embedding-001.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding requires an API key")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

// Embed returns the model's vector for one text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentRequest{
		TaskType: genai.TaskTypeSemanticSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("embed hypothesis: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return result.Embeddings[0].Values, nil
}
