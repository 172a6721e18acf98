package handlers

import (
	"context"
	"sync"

	"github.com/bskyproj/firehose-projector/internal/domain"
)

// fakeStore is a minimal in-memory domain.GraphStore for handler dispatch
// tests: it records which edges/rows exist so a handler test can assert on
// the store's resulting state rather than on mock call expectations.
type fakeStore struct {
	mu sync.Mutex

	users map[string]*domain.User
	posts map[string]*domain.Post

	likeEdges   map[string]bool // rkey -> present
	repostEdges map[string]bool
	followEdges map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*domain.User),
		posts:       make(map[string]*domain.Post),
		likeEdges:   make(map[string]bool),
		repostEdges: make(map[string]bool),
		followEdges: make(map[string]bool),
	}
}

func (s *fakeStore) GetUserByDID(ctx context.Context, did string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[did]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) InsertUserUnlessHandleConflict(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.DID] = &cp
	return &cp, false, nil
}

func (s *fakeStore) InsertUserUnlessDIDConflict(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.DID]; ok {
		cp := *existing
		return &cp, true, nil
	}
	cp := *u
	s.users[u.DID] = &cp
	return &cp, false, nil
}

func (s *fakeStore) UpdateUserHandle(ctx context.Context, did, newHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[did]; ok {
		u.Handle = newHandle
	}
	return nil
}

func (s *fakeStore) UpdateUserProfile(ctx context.Context, did string, displayName, bio *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[did]
	if !ok {
		return nil
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if bio != nil {
		u.Bio = *bio
	}
	return nil
}

func (s *fakeStore) DeleteUser(ctx context.Context, did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, did)
	return nil
}

func (s *fakeStore) GetPostByURI(ctx context.Context, uri string) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[uri]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) InsertPostUnlessConflict(ctx context.Context, rec *domain.NewPostRecord) (*domain.Post, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.posts[rec.URI]; ok {
		cp := *existing
		return &cp, true, nil
	}
	p := &domain.Post{URI: rec.URI, CID: rec.CID, AuthorDID: rec.AuthorDID, Text: rec.Text}
	s.posts[rec.URI] = p
	cp := *p
	return &cp, false, nil
}

func (s *fakeStore) DeletePost(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, uri)
	return nil
}

func (s *fakeStore) AddLikeEdge(ctx context.Context, postURI, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likeEdges[rkey] = true
	return nil
}

func (s *fakeStore) RemoveLikeEdge(ctx context.Context, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.likeEdges, rkey)
	return nil
}

func (s *fakeStore) AddRepostEdge(ctx context.Context, postURI, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repostEdges[rkey] = true
	return nil
}

func (s *fakeStore) RemoveRepostEdge(ctx context.Context, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.repostEdges, rkey)
	return nil
}

func (s *fakeStore) AddFollowEdge(ctx context.Context, subjectDID, authorDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followEdges[rkey] = true
	return nil
}

func (s *fakeStore) RemoveFollowEdge(ctx context.Context, authorDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.followEdges, rkey)
	return nil
}
