package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"insurance-agent/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	convs     map[string]domain.Conversation
	createErr error
	getErr    error
	saveErr   error
	deleteErr error
	sweepErr  error
	countErr  error
	lastTurn  []domain.Message
	lastCut   time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: map[string]domain.Conversation{}}
}

func (f *fakeStore) Create(_ context.Context, conv domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.convs[conv.ID] = conv.Clone()
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Conversation{}, f.getErr
	}
	c, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("fake: %w", domain.ErrConversationNotFound)
	}
	return c.Clone(), nil
}

func (f *fakeStore) SaveTurn(_ context.Context, conv domain.Conversation, turn []domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.convs[conv.ID]; !ok {
		return domain.ErrConversationNotFound
	}
	f.lastTurn = append([]domain.Message(nil), turn...)
	f.convs[conv.ID] = conv.Clone()
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.convs[id]; !ok {
		return domain.ErrConversationNotFound
	}
	delete(f.convs, id)
	return nil
}

func (f *fakeStore) DeleteInactive(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sweepErr != nil {
		return 0, f.sweepErr
	}
	f.lastCut = cutoff
	n := 0
	for id, c := range f.convs {
		if c.LastActivity.Before(cutoff) {
			delete(f.convs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.convs), nil
}

// scriptedGenerator answers extraction requests (those carrying a schema)
// with extract and everything else with reply.
type scriptedGenerator struct {
	mu         sync.Mutex
	extract    string
	extractErr error
	reply      string
	replyErr   error
	requests   []domain.GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req domain.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if req.Schema != nil {
		return g.extract, g.extractErr
	}
	return g.reply, g.replyErr
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// blockingGenerator never returns until release is closed, ignoring ctx.
type blockingGenerator struct {
	release chan struct{}
}

func (g *blockingGenerator) Generate(_ context.Context, _ domain.GenerateRequest) (string, error) {
	<-g.release
	return "", errors.New("released")
}
