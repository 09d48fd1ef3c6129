// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package memory is an in-process implementation of storage.Store used for
// local development (STORAGE_DRIVER=memory) and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/bookguru/community/backend/apperr"
	"github.com/bookguru/community/backend/models"
	"github.com/bookguru/community/backend/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	users   map[int64]models.User
	groups  map[int64]models.Group
	members map[int64]map[int64]time.Time // group -> user -> joined at

	groupMessages  []models.Message
	directMessages []models.Message
	results        []models.CBTResult

	subscriptions       map[int64]time.Time
	requireSubscription bool

	lastStamp    time.Time
	nextMessage  int64
	nextGroup    int64
	nextResultID int64
}

func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:         clock,
		users:         make(map[int64]models.User),
		groups:        make(map[int64]models.Group),
		members:       make(map[int64]map[int64]time.Time),
		subscriptions: make(map[int64]time.Time),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// AddUser seeds the identity data the memory driver cannot fetch elsewhere.
func (s *Store) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// RequireSubscription switches the gate from allow-all to expiry checks.
func (s *Store) RequireSubscription(required bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireSubscription = required
}

func (s *Store) GrantSubscription(userID int64, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[userID] = until
}

func (s *Store) HasAccess(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.requireSubscription {
		return true, nil
	}
	until, ok := s.subscriptions[userID]
	return ok && until.After(s.clock.Now()), nil
}

// stamp hands out non-decreasing timestamps. Callers hold s.mu.
func (s *Store) stamp() time.Time {
	now := s.clock.Now().UTC()
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	s.lastStamp = now
	return now
}

func (s *Store) summary(userID int64) (models.AuthorSummary, error) {
	user, ok := s.users[userID]
	if !ok {
		return models.AuthorSummary{}, fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	return user.Summary(), nil
}

func (s *Store) AppendGroupMessage(_ context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[msg.GroupID]; !ok {
		return models.Message{}, fmt.Errorf("group %d: %w", msg.GroupID, apperr.ErrNotFound)
	}
	author, err := s.summary(msg.SenderID)
	if err != nil {
		return models.Message{}, err
	}
	s.nextMessage++
	msg.ID = s.nextMessage
	msg.ReceiverID = 0
	msg.Author = author
	msg.CreatedAt = s.stamp()
	s.groupMessages = append(s.groupMessages, msg)
	return msg, nil
}

func (s *Store) AppendDirectMessage(_ context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	author, err := s.summary(msg.SenderID)
	if err != nil {
		return models.Message{}, err
	}
	receiver, err := s.summary(msg.ReceiverID)
	if err != nil {
		return models.Message{}, err
	}
	s.nextMessage++
	msg.ID = s.nextMessage
	msg.GroupID = 0
	msg.Author = author
	msg.Receiver = &receiver
	msg.CreatedAt = s.stamp()
	s.directMessages = append(s.directMessages, msg)
	return msg, nil
}

// Messages are appended with non-decreasing stamps and increasing ids, so
// slice order already is (CreatedAt, ID) order.
func (s *Store) ListGroupMessages(_ context.Context, groupID int64, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.groupMessages, func(m models.Message, _ int) bool {
		return m.GroupID == groupID && !m.CreatedAt.Before(since)
	}), nil
}

func (s *Store) ListDirectMessages(_ context.Context, userA, userB int64, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.directMessages, func(m models.Message, _ int) bool {
		between := (m.SenderID == userA && m.ReceiverID == userB) ||
			(m.SenderID == userB && m.ReceiverID == userA)
		return between && !m.CreatedAt.Before(since)
	}), nil
}

func (s *Store) ListConversations(_ context.Context, userID int64) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[int64]models.Message)
	for _, m := range s.directMessages {
		var partner int64
		switch userID {
		case m.SenderID:
			partner = m.ReceiverID
		case m.ReceiverID:
			partner = m.SenderID
		default:
			continue
		}
		latest[partner] = m
	}

	conversations := make([]models.Conversation, 0, len(latest))
	for partner, m := range latest {
		conversations = append(conversations, models.Conversation{
			UserID:      partner,
			Username:    s.users[partner].Username,
			LastMessage: m.Preview(),
			CreatedAt:   m.CreatedAt,
		})
	}
	slices.SortFunc(conversations, func(a, b models.Conversation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return conversations, nil
}

func (s *Store) PurgeOlderThan(_ context.Context, cutoff time.Time) (storage.PurgeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := func(m models.Message, _ int) bool { return !m.CreatedAt.Before(cutoff) }
	groupKept := lo.Filter(s.groupMessages, keep)
	directKept := lo.Filter(s.directMessages, keep)
	report := storage.PurgeReport{
		GroupMessages:  int64(len(s.groupMessages) - len(groupKept)),
		DirectMessages: int64(len(s.directMessages) - len(directKept)),
	}
	s.groupMessages, s.directMessages = groupKept, directKept
	return report, nil
}

func (s *Store) IsMember(_ context.Context, userID, groupID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[groupID][userID]
	return ok, nil
}

func (s *Store) Join(_ context.Context, userID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("group %d: %w", groupID, apperr.ErrNotFound)
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	set, ok := s.members[groupID]
	if !ok {
		set = make(map[int64]time.Time)
		s.members[groupID] = set
	}
	if _, exists := set[userID]; exists {
		return apperr.ErrAlreadyMember
	}
	set[userID] = s.clock.Now().UTC()
	return nil
}

func (s *Store) Leave(_ context.Context, userID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[groupID], userID)
	return nil
}

func (s *Store) ListMembers(_ context.Context, groupID int64) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := lo.Keys(s.members[groupID])
	slices.Sort(ids)
	return lo.Map(ids, func(id int64, _ int) models.User {
		return s.users[id]
	}), nil
}

func (s *Store) ListGroups(_ context.Context) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := lo.Map(lo.Values(s.groups), func(g models.Group, _ int) models.Group {
		g.Members = len(s.members[g.ID])
		return g
	})
	slices.SortFunc(groups, func(a, b models.Group) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return groups, nil
}

func (s *Store) GetGroup(_ context.Context, groupID int64) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", groupID, apperr.ErrNotFound)
	}
	group.Members = len(s.members[groupID])
	return &group, nil
}

func (s *Store) CreateGroup(_ context.Context, title string) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGroup++
	group := models.Group{ID: s.nextGroup, Title: title, CreatedAt: s.clock.Now().UTC()}
	s.groups[group.ID] = group
	return group, nil
}

// DeleteGroup cascades to memberships and group messages like the SQL schema does.
func (s *Store) DeleteGroup(_ context.Context, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("group %d: %w", groupID, apperr.ErrNotFound)
	}
	delete(s.groups, groupID)
	delete(s.members, groupID)
	s.groupMessages = lo.Reject(s.groupMessages, func(m models.Message, _ int) bool {
		return m.GroupID == groupID
	})
	return nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, apperr.ErrNotFound)
	}
	return &user, nil
}

func (s *Store) SaveResult(_ context.Context, result models.CBTResult) (models.CBTResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextResultID++
	result.ID = s.nextResultID
	result.CreatedAt = s.stamp()
	s.results = append(s.results, result)
	return result, nil
}

func (s *Store) ListRecentResults(_ context.Context, userID int64, limit int) ([]models.CBTResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mine := newestFirst(lo.Filter(s.results, func(r models.CBTResult, _ int) bool {
		return r.UserID == userID
	}))
	if limit > 0 && len(mine) > limit {
		mine = mine[:limit]
	}
	return mine, nil
}

func (s *Store) TrimUserResults(_ context.Context, userID int64, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trim(keep, func(id int64) bool { return id == userID }), nil
}

func (s *Store) TrimResults(_ context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trim(keep, func(int64) bool { return true }), nil
}

// trim drops everything past the newest keep results of every matching user.
// Callers hold s.mu.
func (s *Store) trim(keep int, match func(userID int64) bool) int64 {
	seen := make(map[int64]int)
	dropped := make(map[int64]struct{})
	for _, r := range newestFirst(s.results) {
		if !match(r.UserID) {
			continue
		}
		seen[r.UserID]++
		if seen[r.UserID] > keep {
			dropped[r.ID] = struct{}{}
		}
	}
	s.results = lo.Reject(s.results, func(r models.CBTResult, _ int) bool {
		_, drop := dropped[r.ID]
		return drop
	})
	return int64(len(dropped))
}

func newestFirst(results []models.CBTResult) []models.CBTResult {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b models.CBTResult) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return sorted
}
