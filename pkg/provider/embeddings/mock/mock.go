// Package mock provides a test double for the embeddings.Provider interface.
//
//	p := &mock.Provider{Vectors: map[string][]float32{"goblin": {1, 0}}, Dims: 2}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/gameweaver/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps input text to its embedding. Texts without an entry get
	// Default.
	Vectors map[string][]float32

	// Default is returned for texts missing from Vectors.
	Default []float32

	// Err, if non-nil, is returned by Embed.
	Err error

	// Dims is returned by Dimensions.
	Dims int

	// Texts records every input passed to Embed.
	Texts []string
}

// Embed records the call and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return p.Default, nil
}

// Dimensions returns Dims.
func (p *Provider) Dimensions() int { return p.Dims }

// Calls returns the number of Embed calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}
