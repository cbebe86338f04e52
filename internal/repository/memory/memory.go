// Package memory provides process-local implementations of the repository
// stores. It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
)

// QuizStore keeps quizzes keyed by id with a unique link index.
type QuizStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*model.Quiz
	byLink map[string]uuid.UUID
}

// NewQuizStore creates an empty QuizStore.
func NewQuizStore() *QuizStore {
	return &QuizStore{
		byID:   make(map[uuid.UUID]*model.Quiz),
		byLink: make(map[string]uuid.UUID),
	}
}

var _ repository.QuizStore = (*QuizStore)(nil)

func (s *QuizStore) Create(_ context.Context, q *model.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byLink[q.Link]; taken {
		return repository.ErrLinkTaken
	}
	now := time.Now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now
	s.byID[q.ID] = cloneQuiz(q)
	s.byLink[q.Link] = q.ID
	return nil
}

// Update replaces an unpublished quiz. Published rows report ErrNotFound.
func (s *QuizStore) Update(_ context.Context, q *model.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[q.ID]
	if !ok || cur.IsPublished {
		return repository.ErrNotFound
	}
	q.Link, q.CreatedAt = cur.Link, cur.CreatedAt
	q.UpdatedAt = time.Now().UTC()
	s.byID[q.ID] = cloneQuiz(q)
	return nil
}

// Delete removes an unpublished quiz. Published rows report ErrNotFound.
func (s *QuizStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok || cur.IsPublished {
		return repository.ErrNotFound
	}
	delete(s.byLink, cur.Link)
	delete(s.byID, id)
	return nil
}

func (s *QuizStore) GetByID(_ context.Context, id uuid.UUID) (*model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneQuiz(q), nil
}

func (s *QuizStore) GetByLink(_ context.Context, link string) (*model.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLink[link]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneQuiz(s.byID[id]), nil
}

func (s *QuizStore) ListByTeacher(_ context.Context, teacherID, limit, offset int) ([]model.Quiz, int, error) {
	s.mu.RLock()
	var all []model.Quiz
	for _, q := range s.byID {
		if q.TeacherID == teacherID {
			all = append(all, *cloneQuiz(q))
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), len(all), nil
}

// SubmissionStore keeps submissions per quiz. The (quiz, email) key set is
// checked and written under one lock.
type SubmissionStore struct {
	mu     sync.RWMutex
	byQuiz map[uuid.UUID][]model.Submission
	emails map[string]struct{}
}

// NewSubmissionStore creates an empty SubmissionStore.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		byQuiz: make(map[uuid.UUID][]model.Submission),
		emails: make(map[string]struct{}),
	}
}

var _ repository.SubmissionStore = (*SubmissionStore)(nil)

func emailKey(quizID uuid.UUID, email string) string {
	return quizID.String() + "|" + email
}

func (s *SubmissionStore) CreateSubmission(_ context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.Email != "" {
		key := emailKey(sub.QuizID, sub.Email)
		if _, dup := s.emails[key]; dup {
			return repository.ErrDuplicateAttempt
		}
		s.emails[key] = struct{}{}
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	s.byQuiz[sub.QuizID] = append(s.byQuiz[sub.QuizID], cloneSubmission(sub))
	return nil
}

func (s *SubmissionStore) ExistsByEmail(_ context.Context, quizID uuid.UUID, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[emailKey(quizID, email)]
	return ok, nil
}

func (s *SubmissionStore) ListByQuiz(ctx context.Context, quizID uuid.UUID, limit, offset int) ([]model.Submission, int, error) {
	all, _ := s.ListAllByQuiz(ctx, quizID)
	// Newest first, like the Postgres listing.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return page(all, limit, offset), len(all), nil
}

// ListAllByQuiz returns every submission in submission order.
func (s *SubmissionStore) ListAllByQuiz(_ context.Context, quizID uuid.UUID) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.byQuiz[quizID]
	out := make([]model.Submission, len(subs))
	for i := range subs {
		out[i] = cloneSubmission(&subs[i])
	}
	return out, nil
}

// TeacherStore keeps teacher accounts with a case-insensitive email index.
type TeacherStore struct {
	mu      sync.RWMutex
	nextID  int
	byID    map[int]*model.Teacher
	byEmail map[string]int
}

// NewTeacherStore creates an empty TeacherStore.
func NewTeacherStore() *TeacherStore {
	return &TeacherStore{
		byID:    make(map[int]*model.Teacher),
		byEmail: make(map[string]int),
	}
}

var _ repository.TeacherStore = (*TeacherStore)(nil)

func (s *TeacherStore) Create(_ context.Context, t *model.Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(t.Email)
	if _, taken := s.byEmail[key]; taken {
		return repository.ErrEmailTaken
	}
	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = time.Now().UTC()
	cp := *t
	s.byID[t.ID] = &cp
	s.byEmail[key] = t.ID
	return nil
}

func (s *TeacherStore) GetByEmail(_ context.Context, email string) (*model.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *TeacherStore) GetByID(_ context.Context, id int) (*model.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ViolationLogStore appends advisory violation rows.
type ViolationLogStore struct {
	mu   sync.Mutex
	logs []model.ViolationLog
}

// NewViolationLogStore creates an empty ViolationLogStore.
func NewViolationLogStore() *ViolationLogStore {
	return &ViolationLogStore{}
}

var _ repository.ViolationLogStore = (*ViolationLogStore)(nil)

func (s *ViolationLogStore) BulkInsert(_ context.Context, logs []model.ViolationLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return int64(len(logs)), nil
}

func (s *ViolationLogStore) Insert(_ context.Context, l model.ViolationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

// All returns a copy of every stored row.
func (s *ViolationLogStore) All() []model.ViolationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ViolationLog, len(s.logs))
	copy(out, s.logs)
	return out
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func cloneQuiz(q *model.Quiz) *model.Quiz {
	cp := *q
	cp.FormFields = append([]model.FormField(nil), q.FormFields...)
	for i := range cp.FormFields {
		cp.FormFields[i].Options = append([]string(nil), q.FormFields[i].Options...)
	}
	cp.Questions = append([]model.Question(nil), q.Questions...)
	for i := range cp.Questions {
		cp.Questions[i].Options = append([]string(nil), q.Questions[i].Options...)
	}
	if q.Settings.StartDate != nil {
		t := *q.Settings.StartDate
		cp.Settings.StartDate = &t
	}
	if q.Settings.EndDate != nil {
		t := *q.Settings.EndDate
		cp.Settings.EndDate = &t
	}
	return &cp
}

func cloneSubmission(s *model.Submission) model.Submission {
	cp := *s
	cp.Registration = make(map[string]string, len(s.Registration))
	for k, v := range s.Registration {
		cp.Registration[k] = v
	}
	cp.Answers = append([]model.Answer(nil), s.Answers...)
	cp.Violations = append([]model.Violation(nil), s.Violations...)
	return cp
}
