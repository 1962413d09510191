package session

import (
	"sync"

	"github.com/google/uuid"
)

// Preview is a displayable copy of an uploaded image, served at URL until released.
type Preview struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

// previewStore holds the previews the page may still request.
type previewStore struct {
	mu    sync.RWMutex
	items map[string]*Preview
}

func newPreviewStore() *previewStore {
	return &previewStore{items: make(map[string]*Preview)}
}

func (s *previewStore) create(mediaType string, data []byte) *Preview {
	id := uuid.NewString()
	p := &Preview{
		ID:        id,
		URL:       "/preview/" + id,
		MediaType: mediaType,
		Data:      data,
	}
	s.mu.Lock()
	s.items[id] = p
	s.mu.Unlock()
	return p
}

func (s *previewStore) get(id string) (*Preview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	return p, ok
}

func (s *previewStore) release(p *Preview) {
	if p == nil {
		return
	}
	s.mu.Lock()
	delete(s.items, p.ID)
	s.mu.Unlock()
}

func (s *previewStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
