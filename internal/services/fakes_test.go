package services_test

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"listing-studio-backend/internal/imagen"
	"listing-studio-backend/internal/models"
)

// memLedger is an in-memory Ledger with the same guarded transitions as the SQL one.
type memLedger struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	images   map[uuid.UUID]*models.Image

	deleteErr error
}

func newMemLedger() *memLedger {
	return &memLedger{
		projects: map[uuid.UUID]*models.Project{},
		images:   map[uuid.UUID]*models.Image{},
	}
}

func (l *memLedger) addProject(imageCount int) *models.Project {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &models.Project{
		ID:            uuid.New(),
		WorkspaceID:   uuid.New(),
		UserID:        uuid.New(),
		Name:          "12 Maple St",
		StyleTemplate: "modern",
		ImageCount:    imageCount,
		Status:        models.ProjectStatusPending,
	}
	l.projects[p.ID] = p
	return p
}

func (l *memLedger) addImage(img models.Image) *models.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.Kind == "" {
		img.Kind = models.ImageKindGenerate
	}
	if img.Status == "" {
		img.Status = models.ImageStatusPending
	}
	if img.Metadata == nil {
		img.Metadata = models.Metadata{}
	}
	stored := img
	l.images[img.ID] = &stored
	return &img
}

func (l *memLedger) image(id uuid.UUID) models.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.images[id]
}

func (l *memLedger) project(id uuid.UUID) models.Project {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.projects[id]
}

func (l *memLedger) allImages() []models.Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Image, 0, len(l.images))
	for _, img := range l.images {
		out = append(out, *img)
	}
	return out
}

func (l *memLedger) GetImage(_ context.Context, id uuid.UUID) (*models.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.images[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (l *memLedger) GetProjectByID(_ context.Context, id uuid.UUID) (*models.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.projects[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *memLedger) inFlight(id uuid.UUID) (*models.Image, bool) {
	img, ok := l.images[id]
	if !ok || img.Status.IsTerminal() {
		return nil, false
	}
	return img, true
}

func (l *memLedger) MarkImageProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.inFlight(id)
	if !ok {
		return false, nil
	}
	img.Status = models.ImageStatusProcessing
	return true, nil
}

func (l *memLedger) CompleteImage(_ context.Context, id uuid.UUID, resultURL string, metadata models.Metadata) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.inFlight(id)
	if !ok {
		return false, nil
	}
	img.Status = models.ImageStatusCompleted
	img.ResultImageURL = sql.NullString{String: resultURL, Valid: true}
	img.ErrorMessage = sql.NullString{}
	delete(img.Metadata, "lastAttemptError")
	img.Metadata = img.Metadata.Merge(metadata)
	return true, nil
}

func (l *memLedger) FailImage(_ context.Context, id uuid.UUID, errorMsg string, metadata models.Metadata) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.inFlight(id)
	if !ok {
		return false, nil
	}
	img.Status = models.ImageStatusFailed
	img.ResultImageURL = sql.NullString{}
	img.ErrorMessage = sql.NullString{String: errorMsg, Valid: true}
	img.Metadata = img.Metadata.Merge(metadata)
	return true, nil
}

func (l *memLedger) RecordAttemptError(_ context.Context, id uuid.UUID, metadata models.Metadata) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	img, ok := l.inFlight(id)
	if !ok {
		return false, nil
	}
	img.Metadata = img.Metadata.Merge(metadata)
	return true, nil
}

func (l *memLedger) RecomputeProjectCounters(_ context.Context, projectID uuid.UUID) (*models.Project, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.projects[projectID]
	if !ok {
		return nil, models.ErrNotFound
	}
	var images []models.Image
	for _, img := range l.images {
		if img.ProjectID == projectID {
			images = append(images, *img)
		}
	}
	sort.Slice(images, func(i, j int) bool { return images[i].CreatedAt.Before(images[j].CreatedAt) })
	p.Recompute(images)
	cp := *p
	return &cp, nil
}

func (l *memLedger) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deleteErr != nil {
		return l.deleteErr
	}
	if _, ok := l.projects[projectID]; !ok {
		return models.ErrNotFound
	}
	delete(l.projects, projectID)
	for id, img := range l.images {
		if img.ProjectID == projectID {
			delete(l.images, id)
		}
	}
	return nil
}

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	listErr   map[string]error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, listErr: map[string]error{}}
}

func (s *memStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "https://storage.test/" + key, nil
}

func (s *memStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr[prefix]; err != nil {
		return nil, err
	}
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memStore) Delete(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, keys...)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, key := range keys {
		delete(s.objects, key)
	}
	return nil
}

// fakeFetcher serves blobs by URL and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	blobs map[string]imagen.Blob
	calls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{blobs: map[string]imagen.Blob{}}
}

func (f *fakeFetcher) serve(url, contentType string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[url] = imagen.Blob{Data: data, ContentType: contentType}
}

func (f *fakeFetcher) DownloadFile(_ context.Context, url string) (*imagen.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	blob, ok := f.blobs[url]
	if !ok {
		return nil, errors.New("failed to download file: status 404, body: not found")
	}
	data := append([]byte(nil), blob.Data...)
	return &imagen.Blob{Data: data, ContentType: blob.ContentType}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Stage(ctx context.Context, data []byte, contentType, fileName string) (string, error) {
	args := m.Called(ctx, data, contentType, fileName)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Generate(ctx context.Context, req imagen.GenerateRequest) (*imagen.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*imagen.Result)
	return result, args.Error(1)
}

func (m *mockProvider) EditWithInstruction(ctx context.Context, req imagen.InstructEditRequest) (*imagen.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*imagen.Result)
	return result, args.Error(1)
}

func (m *mockProvider) RemoveWithMask(ctx context.Context, req imagen.MaskEditRequest) (*imagen.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*imagen.Result)
	return result, args.Error(1)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.ImageEvent
}

func (r *recordingEvents) PublishImageEvent(_ context.Context, event models.ImageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}
