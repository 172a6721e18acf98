package resolver

import (
	"context"
	"sync"

	"github.com/bskyproj/firehose-projector/internal/domain"
	"github.com/bskyproj/firehose-projector/internal/graphdb"
)

// fakeStore is an in-memory domain.GraphStore used by resolver tests. It
// implements the same insert-unless-conflict and edge set-union/difference
// semantics the real graph database is expected to provide.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*domain.User // by did
	posts map[string]*domain.Post // by uri

	likes   map[string]string // rkey -> postURI, for RemoveLikeEdge lookups
	reposts map[string]string
	follows map[string]string

	// didConflictOnInsert simulates a concurrent insert winning the race on
	// did: the next InsertUserUnlessHandleConflict call for a listed did
	// inserts the row (as the real concurrent writer would have) and
	// returns a did ConflictError instead of succeeding normally, firing
	// only once per did.
	didConflictOnInsert map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:               make(map[string]*domain.User),
		posts:               make(map[string]*domain.Post),
		likes:               make(map[string]string),
		reposts:             make(map[string]string),
		follows:             make(map[string]string),
		didConflictOnInsert: make(map[string]bool),
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

func (s *fakeStore) userByHandle(handle string) *domain.User {
	for _, u := range s.users {
		if u.Handle == handle {
			return u
		}
	}
	return nil
}

func (s *fakeStore) InsertUserUnlessHandleConflict(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.didConflictOnInsert[u.DID] {
		delete(s.didConflictOnInsert, u.DID)
		cp := *u
		s.users[u.DID] = &cp
		return nil, false, &graphdb.ConflictError{Column: "did"}
	}
	if existing := s.userByHandle(u.Handle); existing != nil && existing.DID != u.DID {
		cp := *existing
		return &cp, true, nil
	}
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
	p := &domain.Post{
		URI:       rec.URI,
		CID:       rec.CID,
		AuthorDID: rec.AuthorDID,
		Text:      rec.Text,
		CreatedAt: rec.CreatedAt,
		Embed:     rec.Embed,
		AltText:   rec.AltText,
		ParentURI: rec.ParentURI,
		RootURI:   rec.RootURI,
		QuotedURI: rec.QuotedURI,
		Langs:     rec.Langs,
		Tags:      rec.Tags,
		Labels:    rec.Labels,
	}
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
	s.likes[rkey] = postURI
	return nil
}

func (s *fakeStore) RemoveLikeEdge(ctx context.Context, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.likes, rkey)
	return nil
}

func (s *fakeStore) AddRepostEdge(ctx context.Context, postURI, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reposts[rkey] = postURI
	return nil
}

func (s *fakeStore) RemoveRepostEdge(ctx context.Context, userDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reposts, rkey)
	return nil
}

func (s *fakeStore) AddFollowEdge(ctx context.Context, subjectDID, authorDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows[rkey] = subjectDID
	return nil
}

func (s *fakeStore) RemoveFollowEdge(ctx context.Context, authorDID, rkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.follows, rkey)
	return nil
}
