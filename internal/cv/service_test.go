package cv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cvforge/internal/database"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, database.Migrate(db), "migrate")
	return NewService(db), db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *database.User {
	t.Helper()
	user := database.User{Name: "Test User", Email: email, PasswordHash: "secret-password-hash-sentinel"}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func TestCreateWritesInitialVersion(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Senior  Developer!! "})
	require.NoError(t, err)

	assert.Equal(t, "senior-developer", record.Slug)
	assert.Equal(t, database.TemplateClassic, record.Template)
	assert.False(t, record.IsPublic)

	var versions []database.Version
	require.NoError(t, db.Where("cv_id = ?", record.ID).Find(&versions).Error)
	require.Len(t, versions, 1)
	assert.Equal(t, "Initial version", versions[0].Label)

	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(versions[0].Snapshot, &snapshot))
	assert.Equal(t, record.Template, snapshot.Template)
}

func TestCreateResolvesSlugCollision(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	first, err := svc.Create(ctx, owner.ID, CreateInput{Title: "My CV", Slug: "my-cv"})
	require.NoError(t, err)
	assert.Equal(t, "my-cv", first.Slug)

	second, err := svc.Create(ctx, owner.ID, CreateInput{Title: "My CV", Slug: "my-cv"})
	require.NoError(t, err)
	assert.Equal(t, "my-cv-1", second.Slug)

	third, err := svc.Create(ctx, owner.ID, CreateInput{Title: "My CV", Slug: "my-cv"})
	require.NoError(t, err)
	assert.Equal(t, "my-cv-2", third.Slug)
}

func TestCreateDefaultPrefillsHeader(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "alice@example.com")
	ctx := context.Background()

	record, err := svc.CreateDefault(ctx, owner.ID, "Alice", "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, "My CV", record.Title)
	assert.Regexp(t, `^my-cv-\d+$`, record.Slug)
	assert.Equal(t, database.TemplateClassic, record.Template)

	var data Data
	require.NoError(t, json.Unmarshal(record.Data, &data))
	assert.Equal(t, "Alice", data.Header.FullName)
	assert.Equal(t, "alice@example.com", data.Header.Email)
	assert.Empty(t, data.Header.Phone)
	assert.Empty(t, data.Experience)
}

func TestGetErrorTaxonomy(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	other := seedUser(t, db, "other@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)

	_, _, err = svc.Get(ctx, record.ID, owner.ID)
	assert.NoError(t, err)

	_, _, err = svc.Get(ctx, record.ID, other.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = svc.Get(ctx, record.ID+1000, owner.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsVersionsNewestFirst(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)

	_, err = svc.CreateVersion(ctx, record.ID, owner.ID, "Second")
	require.NoError(t, err)

	_, versions, err := svc.Get(ctx, record.ID, owner.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for i := 1; i < len(versions); i++ {
		assert.False(t, versions[i].CreatedAt.After(versions[i-1].CreatedAt), "versions must be newest first")
	}
}

func TestUpdateShallowMerge(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Original"})
	require.NoError(t, err)

	newTitle := "Renamed"
	updated, err := svc.Update(ctx, record.ID, owner.ID, UpdateInput{Title: &newTitle})
	require.NoError(t, err)

	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, record.Slug, updated.Slug)
	assert.JSONEq(t, string(record.Data), string(updated.Data))

	var versions []database.Version
	require.NoError(t, db.Where("cv_id = ?", record.ID).Find(&versions).Error)
	assert.Len(t, versions, 1, "update must not create a version")
}

func TestRemove(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Doomed"})
	require.NoError(t, err)
	_, err = svc.CreateShareToken(ctx, record.ID, owner.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, record.ID, owner.ID))

	assert.ErrorIs(t, svc.Remove(ctx, record.ID, owner.ID), ErrNotFound)

	var versionCount, tokenCount int64
	require.NoError(t, db.Model(&database.Version{}).Where("cv_id = ?", record.ID).Count(&versionCount).Error)
	require.NoError(t, db.Model(&database.ShareToken{}).Where("cv_id = ?", record.ID).Count(&tokenCount).Error)
	assert.Zero(t, versionCount)
	assert.Zero(t, tokenCount)
}

func TestDuplicate(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	src, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Source"})
	require.NoError(t, err)

	copyRecord, err := svc.Duplicate(ctx, src.ID, owner.ID)
	require.NoError(t, err)

	assert.NotEqual(t, src.ID, copyRecord.ID)
	assert.NotEqual(t, src.Slug, copyRecord.Slug)
	assert.Equal(t, "Source (Copy)", copyRecord.Title)
	assert.Equal(t, src.Template, copyRecord.Template)
	assert.JSONEq(t, string(src.Theme), string(copyRecord.Theme))
	assert.JSONEq(t, string(src.Data), string(copyRecord.Data))
	assert.False(t, copyRecord.IsPublic)

	var versions []database.Version
	require.NoError(t, db.Where("cv_id = ?", copyRecord.ID).Find(&versions).Error)
	require.Len(t, versions, 1)
	assert.Equal(t, "Duplicated from existing", versions[0].Label)
}

func TestRestoreVersionRoundTrip(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)

	_, versions, err := svc.Get(ctx, record.ID, owner.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	initial := versions[0]

	data := EmptyData("Changed", "changed@example.com")
	template := database.TemplateModern
	_, err = svc.Update(ctx, record.ID, owner.ID, UpdateInput{Data: &data, Template: &template})
	require.NoError(t, err)

	restored, err := svc.RestoreVersion(ctx, initial.ID, owner.ID)
	require.NoError(t, err)

	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(initial.Snapshot, &snapshot))
	assert.Equal(t, snapshot.Template, restored.Template)

	var restoredData Data
	require.NoError(t, json.Unmarshal(restored.Data, &restoredData))
	assert.Equal(t, snapshot.Data, restoredData)

	_, after, err := svc.Get(ctx, record.ID, owner.ID)
	require.NoError(t, err)
	assert.Len(t, after, 1, "restore must not touch the version list")
}

func TestDeleteVersion(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	other := seedUser(t, db, "other@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)
	extra, err := svc.CreateVersion(ctx, record.ID, owner.ID, "Checkpoint")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteVersion(ctx, extra.ID, other.ID), ErrForbidden)
	require.NoError(t, svc.DeleteVersion(ctx, extra.ID, owner.ID))

	var reloaded database.CV
	require.NoError(t, db.First(&reloaded, record.ID).Error)
	assert.JSONEq(t, string(record.Data), string(reloaded.Data), "deleting a version must not touch the cv")
}

func TestDiffVersion(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)
	_, versions, err := svc.Get(ctx, record.ID, owner.ID)
	require.NoError(t, err)
	initial := versions[0]

	diff, err := svc.DiffVersion(ctx, record.ID, initial.ID, owner.ID)
	require.NoError(t, err)
	assert.False(t, diff.TemplateChanged)
	assert.False(t, diff.ThemeChanged)
	assert.Empty(t, diff.ChangedSections)

	data := EmptyData("Someone", "someone@example.com")
	template := database.TemplateCompact
	_, err = svc.Update(ctx, record.ID, owner.ID, UpdateInput{Data: &data, Template: &template})
	require.NoError(t, err)

	diff, err = svc.DiffVersion(ctx, record.ID, initial.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, diff.TemplateChanged)
	assert.Contains(t, diff.ChangedSections, "header")
	assert.NotContains(t, diff.ChangedSections, "experience")
}

func TestShareTokenResolvesRegardlessOfVisibility(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Private CV"})
	require.NoError(t, err)

	share, err := svc.CreateShareToken(ctx, record.ID, owner.ID)
	require.NoError(t, err)
	assert.Len(t, share.Token, 32)

	resolved, resolvedOwner, err := svc.ResolvePublic(ctx, "whatever", record.Slug, share.Token)
	require.NoError(t, err)
	assert.Equal(t, record.ID, resolved.ID)
	assert.Equal(t, owner.ID, resolvedOwner.ID)

	// 令牌对不上 slug 时回落到公开路径；私有简历应当整体 404。
	_, _, err = svc.ResolvePublic(ctx, "whatever", "wrong-slug", share.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePublicByUsernameAndSlug(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Public CV"})
	require.NoError(t, err)

	_, _, err = svc.ResolvePublic(ctx, "test-user", record.Slug, "")
	assert.ErrorIs(t, err, ErrNotFound, "private cv must not resolve")

	_, err = svc.UpdateVisibility(ctx, record.ID, owner.ID, true)
	require.NoError(t, err)

	resolved, _, err := svc.ResolvePublic(ctx, "test-user", record.Slug, "")
	require.NoError(t, err)
	assert.Equal(t, record.ID, resolved.ID)

	_, _, err = svc.ResolvePublic(ctx, "someone-else", record.Slug, "")
	assert.ErrorIs(t, err, ErrNotFound, "wrong username segment must not resolve")
}

func TestConcurrentVisibilityTogglesBothSucceed(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)

	// sqlite 写并发受限，收紧连接池让两次写串行提交
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, public := range []bool{true, false} {
		wg.Add(1)
		go func(i int, public bool) {
			defer wg.Done()
			_, errs[i] = svc.UpdateVisibility(ctx, record.ID, owner.ID, public)
		}(i, public)
	}
	wg.Wait()

	require.NoError(t, errs[0], "both toggles must succeed")
	require.NoError(t, errs[1], "both toggles must succeed")

	// 后写覆盖先写，最终状态是其中一次请求的值
	var reloaded database.CV
	require.NoError(t, db.First(&reloaded, record.ID).Error)
	assert.True(t, reloaded.UpdatedAt.After(record.UpdatedAt) || reloaded.UpdatedAt.Equal(record.UpdatedAt))
}

func TestRevokeShareToken(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	other := seedUser(t, db, "other@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Shared"})
	require.NoError(t, err)
	share, err := svc.CreateShareToken(ctx, record.ID, owner.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RevokeShareToken(ctx, share.Token, other.ID), ErrForbidden)
	require.NoError(t, svc.RevokeShareToken(ctx, share.Token, owner.ID))

	_, _, err = svc.ResolvePublic(ctx, "whatever", record.Slug, share.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListForUser(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	other := seedUser(t, db, "other@example.com")
	ctx := context.Background()

	first, err := svc.Create(ctx, owner.ID, CreateInput{Title: "First"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner.ID, CreateInput{Title: "Second"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, other.ID, CreateInput{Title: "Not mine"})
	require.NoError(t, err)

	items, err := svc.ListForUser(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, owner.ID, item.CV.UserID)
		require.NotNil(t, item.LatestVersion)
	}

	// 最近更新的排在前面。
	newTitle := "First but touched"
	_, err = svc.Update(ctx, first.ID, owner.ID, UpdateInput{Title: &newTitle})
	require.NoError(t, err)

	items, err = svc.ListForUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "First but touched", items[0].CV.Title)
}

func TestExportAccount(t *testing.T) {
	svc, db := newTestService(t)
	owner := seedUser(t, db, "owner@example.com")
	ctx := context.Background()

	record, err := svc.Create(ctx, owner.ID, CreateInput{Title: "Mine"})
	require.NoError(t, err)
	_, err = svc.CreateVersion(ctx, record.ID, owner.ID, "Checkpoint")
	require.NoError(t, err)

	export, err := svc.ExportAccount(ctx, owner.ID)
	require.NoError(t, err)

	assert.Equal(t, owner.Email, export.User.Email)
	assert.Equal(t, "1.0", export.Version)
	require.Len(t, export.CVs, 1)
	assert.Len(t, export.CVs[0].Versions, 2)

	payload, err := json.Marshal(export)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "PasswordHash")
	assert.NotContains(t, string(payload), owner.PasswordHash)
}
