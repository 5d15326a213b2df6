package handlers_test

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"listing-studio-backend/internal/middleware"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/progress"
)

type fakeLedger struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]*models.Project
	images     map[uuid.UUID]*models.Image
	seq        int
	recomputes int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{projects: map[uuid.UUID]*models.Project{}, images: map[uuid.UUID]*models.Image{}}
}

func (l *fakeLedger) addProject(workspaceID uuid.UUID, status models.ProjectStatus) *models.Project {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &models.Project{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		Name:          "44 Harbor Rd",
		StyleTemplate: "scandinavian",
		RoomType:      sql.NullString{String: "living_room", Valid: true},
		Status:        status,
	}
	l.projects[p.ID] = p
	return p
}

func (l *fakeLedger) addImage(img models.Image) *models.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.Kind == "" {
		img.Kind = models.ImageKindGenerate
	}
	l.seq++
	img.CreatedAt = time.Unix(int64(l.seq), 0)
	l.images[img.ID] = &img
	return &img
}

func (l *fakeLedger) image(id uuid.UUID) *models.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	img := *l.images[id]
	return &img
}

func (l *fakeLedger) CreateProject(_ context.Context, p *models.Project) (*models.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	created := *p
	created.ID = uuid.New()
	created.Status = models.ProjectStatusPending
	l.projects[created.ID] = &created
	return &created, nil
}

func (l *fakeLedger) GetProject(_ context.Context, projectID, workspaceID uuid.UUID) (*models.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.projects[projectID]
	if !ok || p.WorkspaceID != workspaceID {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) ListProjects(_ context.Context, workspaceID uuid.UUID) ([]models.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Project
	for _, p := range l.projects {
		if p.WorkspaceID == workspaceID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (l *fakeLedger) CreateImage(_ context.Context, img *models.Image) (*models.Image, error) {
	img.Status = models.ImageStatusPending
	return l.addImage(*img), nil
}

func (l *fakeLedger) GetImage(_ context.Context, imageID uuid.UUID) (*models.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.images[imageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (l *fakeLedger) ListProjectImages(_ context.Context, projectID uuid.UUID) ([]models.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Image
	for _, img := range l.images {
		if img.ProjectID == projectID {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *fakeLedger) FailImage(_ context.Context, imageID uuid.UUID, errorMsg string, _ models.Metadata) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.images[imageID]
	if !ok || img.Status.IsTerminal() {
		return false, nil
	}
	img.Status = models.ImageStatusFailed
	img.ErrorMessage = sql.NullString{String: errorMsg, Valid: true}
	return true, nil
}

func (l *fakeLedger) RecomputeProjectCounters(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	images, _ := l.ListProjectImages(ctx, projectID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recomputes++
	p, ok := l.projects[projectID]
	if !ok {
		return nil, models.ErrNotFound
	}
	p.Recompute(images)
	cp := *p
	return &cp, nil
}

type fakeStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{objs: map[string][]byte{}} }

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[key] = data
	return "https://cdn.example.com/" + key, nil
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objs[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	generate []models.GeneratePayload
	edit     []models.EditPayload
	err      error
}

func (q *fakeEnqueuer) EnqueueGenerate(_ context.Context, p models.GeneratePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.generate = append(q.generate, p)
	return nil
}

func (q *fakeEnqueuer) EnqueueEdit(_ context.Context, p models.EditPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.edit = append(q.edit, p)
	return nil
}

type fakeDeleter struct {
	deleted []uuid.UUID
	err     error
}

func (d *fakeDeleter) Delete(_ context.Context, p *models.Project) error {
	if d.err != nil {
		return d.err
	}
	d.deleted = append(d.deleted, p.ID)
	return nil
}

type fakeProgress struct {
	percent   int
	err       error
	forgotten []uuid.UUID
}

func (f *fakeProgress) Observe(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]progress.Estimate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uuid.UUID]progress.Estimate, len(ids))
	for _, id := range ids {
		out[id] = progress.Estimate{Percent: f.percent, Stage: "generate"}
	}
	return out, nil
}

func (f *fakeProgress) Forget(_ context.Context, ids ...uuid.UUID) error {
	f.forgotten = append(f.forgotten, ids...)
	return nil
}

var errQueueDown = errors.New("redis: connection refused")

// withWorkspace stands in for the auth middleware.
func withWorkspace(workspaceID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, uuid.New())
		c.Set(middleware.WorkspaceIDKey, workspaceID)
		c.Next()
	}
}
