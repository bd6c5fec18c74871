package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"hostel-chat/internal/domain"
	"hostel-chat/internal/repository"
)

// AttachmentStore is a mock type for the repository.AttachmentStore type
type AttachmentStore struct {
	mock.Mock
}

func (m *AttachmentStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	ret := m.Called(ctx, originalName, r)
	return ret.String(0), ret.Error(1)
}

func (m *AttachmentStore) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	ret := m.Called(ctx, url)
	var r0 io.ReadCloser
	if v := ret.Get(0); v != nil {
		r0 = v.(io.ReadCloser)
	}
	return r0, ret.Error(1)
}

func (m *AttachmentStore) Delete(ctx context.Context, url string) error {
	ret := m.Called(ctx, url)
	return ret.Error(0)
}

func (m *AttachmentStore) StoredName(url string) (string, error) {
	ret := m.Called(url)
	return ret.String(0), ret.Error(1)
}

// BackupStore is a mock type for the repository.BackupStore type
type BackupStore struct {
	mock.Mock
}

func (m *BackupStore) Create(ctx context.Context, id string) (repository.BackupWriter, error) {
	ret := m.Called(ctx, id)
	var r0 repository.BackupWriter
	if v := ret.Get(0); v != nil {
		r0 = v.(repository.BackupWriter)
	}
	return r0, ret.Error(1)
}

func (m *BackupStore) List(ctx context.Context) ([]domain.BackupInfo, error) {
	ret := m.Called(ctx)
	var r0 []domain.BackupInfo
	if v := ret.Get(0); v != nil {
		r0 = v.([]domain.BackupInfo)
	}
	return r0, ret.Error(1)
}

func (m *BackupStore) Stat(ctx context.Context, id string) (*domain.BackupInfo, error) {
	ret := m.Called(ctx, id)
	var r0 *domain.BackupInfo
	if v := ret.Get(0); v != nil {
		r0 = v.(*domain.BackupInfo)
	}
	return r0, ret.Error(1)
}

func (m *BackupStore) WriteBundle(ctx context.Context, id string, w io.Writer) error {
	ret := m.Called(ctx, id, w)
	return ret.Error(0)
}

func (m *BackupStore) Delete(ctx context.Context, id string) error {
	ret := m.Called(ctx, id)
	return ret.Error(0)
}

// BackupWriter is a mock type for the repository.BackupWriter type
type BackupWriter struct {
	mock.Mock
}

func (m *BackupWriter) ID() string {
	return m.Called().String(0)
}

func (m *BackupWriter) AddFile(name string, r io.Reader) error {
	ret := m.Called(name, r)
	return ret.Error(0)
}

func (m *BackupWriter) WriteManifest(manifest domain.BackupManifest) error {
	ret := m.Called(manifest)
	return ret.Error(0)
}

func (m *BackupWriter) Commit() (*domain.BackupInfo, error) {
	ret := m.Called()
	var r0 *domain.BackupInfo
	if v := ret.Get(0); v != nil {
		r0 = v.(*domain.BackupInfo)
	}
	return r0, ret.Error(1)
}

func (m *BackupWriter) Abort() error {
	return m.Called().Error(0)
}
