package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hitoshi/rentnest/internal/model"
)

func TestPostgresProfileRepo_ImplementsInterface(t *testing.T) {
	var _ ProfileRepository = (*PostgresProfileRepo)(nil)
}

func TestPostgresProfileRepo_Update_PartialFields(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresProfileRepo(db)
	id := createTestAccount(t, db, "renter@example.com", model.RoleRenter, "renter")

	name := "Renter Rita"
	updated, err := repo.Update(ctx, id, model.ProfileUpdate{ContactName: &name})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.ContactName != name {
		t.Errorf("ContactName = %q, want %q", updated.ContactName, name)
	}
	if updated.ContactPhone != model.DefaultContactPhone {
		t.Errorf("ContactPhone = %q, should be unchanged", updated.ContactPhone)
	}
	if updated.Email != "renter@example.com" {
		t.Errorf("Email = %q, want joined from users", updated.Email)
	}
}

func TestPostgresProfileRepo_Update_SavedPropertiesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresProfileRepo(db)
	id := createTestAccount(t, db, "saver@example.com", model.RoleRenter, "saver")

	updated, err := repo.Update(ctx, id, model.ProfileUpdate{SavedProperties: []int64{42, 7}})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(updated.SavedProperties, []int64{42, 7}) {
		t.Errorf("SavedProperties = %v, want [42 7]", updated.SavedProperties)
	}

	// nilは変更なし
	lang := model.LanguageSpanish
	updated, err = repo.Update(ctx, id, model.ProfileUpdate{PreferredLanguage: &lang})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !reflect.DeepEqual(updated.SavedProperties, []int64{42, 7}) {
		t.Errorf("SavedProperties = %v, should be unchanged", updated.SavedProperties)
	}
	if updated.PreferredLanguage != model.LanguageSpanish {
		t.Errorf("PreferredLanguage = %q, want es", updated.PreferredLanguage)
	}

	// 空スライスは全削除
	updated, err = repo.Update(ctx, id, model.ProfileUpdate{SavedProperties: []int64{}})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if len(updated.SavedProperties) != 0 {
		t.Errorf("SavedProperties = %v, want empty", updated.SavedProperties)
	}
}

func TestPostgresProfileRepo_Update_NotFound_ReturnsNil(t *testing.T) {
	db := openTestDB(t)
	name := "ghost"

	p, err := NewPostgresProfileRepo(db).Update(context.Background(), "00000000-0000-0000-0000-000000000000", model.ProfileUpdate{ContactName: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
}

func TestPostgresProfileRepo_ListAll_AndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresProfileRepo(db)
	a := createTestAccount(t, db, "a@example.com", model.RoleAdmin, "a")
	b := createTestAccount(t, db, "b@example.com", model.RoleLandlord, "b")

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	if err := repo.DeleteByID(ctx, b); err != nil {
		t.Fatalf("DeleteByID returned error: %v", err)
	}
	if err := repo.DeleteByID(ctx, b); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteByID err = %v, want ErrNotFound", err)
	}

	// 資格情報は残る
	cred, err := NewPostgresUserRepo(db).FindByID(ctx, b)
	if err != nil || cred == nil {
		t.Errorf("credential should remain after profile-only deletion: %v, %v", cred, err)
	}

	all, _ = repo.ListAll(ctx)
	if len(all) != 1 || all[0].ID != a {
		t.Errorf("ListAll after delete = %+v", all)
	}
}
