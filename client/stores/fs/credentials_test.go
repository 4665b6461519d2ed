package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/panyam/authsdk/client"
)

func TestFSCredentialStore_GetSetCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	cred, err := store.GetCredential("http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}

	testCred := &client.ServerCredential{
		AccessToken:  "test-token",
		RefreshToken: "refresh-token",
		Username:     "alice",
		ExpiresAt:    time.Now().Add(time.Hour),
		CreatedAt:    time.Now(),
	}
	if err := store.SetCredential("http://localhost:8080", testCred); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	cred, err = store.GetCredential("http://localhost:8080")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred == nil || cred.AccessToken != "test-token" || cred.RefreshToken != "refresh-token" {
		t.Errorf("unexpected credential %+v", cred)
	}
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	store.SetCredential("http://localhost:8080/some/path?x=1", &client.ServerCredential{AccessToken: "t"})

	cred, _ := store.GetCredential("http://localhost:8080")
	if cred == nil || cred.AccessToken != "t" {
		t.Fatalf("expected credential under normalized URL, got %+v", cred)
	}
	if got := store.Servers(); len(got) != 1 || got[0] != "http://localhost:8080" {
		t.Errorf("Servers() = %v", got)
	}
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	store.SetCredential("https://auth.example.com", &client.ServerCredential{
		AccessToken: "persisted",
		UserID:      "user-1",
		ExpiresAt:   expires,
	})
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("credentials file missing: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	reloaded, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	cred, _ := reloaded.GetCredential("https://auth.example.com")
	if cred == nil {
		t.Fatal("expected credential after reload")
	}
	if cred.AccessToken != "persisted" || cred.UserID != "user-1" || !cred.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected reloaded credential %+v", cred)
	}
}

func TestFSCredentialStore_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, _ := NewFSCredentialStore(path, "")
	store.SetCredential("https://a.example.com", &client.ServerCredential{AccessToken: "a"})
	store.SetCredential("https://b.example.com", &client.ServerCredential{AccessToken: "b"})
	store.Save()

	if err := store.RemoveCredential("https://a.example.com"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	store.Save()

	reloaded, _ := NewFSCredentialStore(path, "")
	if cred, _ := reloaded.GetCredential("https://a.example.com"); cred != nil {
		t.Errorf("expected removed credential to stay removed, got %+v", cred)
	}
	if cred, _ := reloaded.GetCredential("https://b.example.com"); cred == nil {
		t.Error("expected other credential to survive")
	}
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	if _, err := NewFSCredentialStore(path, ""); err == nil {
		t.Error("expected error for corrupt credentials file")
	}
}

func TestServerKey(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:8080/auth", "http://localhost:8080", false},
		{"HTTPS://Auth.Example.com", "https://auth.example.com", false},
		{"https://auth.example.com:443/x", "https://auth.example.com", false},
		{"http://auth.example.com:80", "http://auth.example.com", false},
		{"auth.example.com", "https://auth.example.com", false},
		{"https://", "", true},
	}
	for _, tt := range tests {
		got, err := serverKey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("serverKey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("serverKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFSCredentialStore_NewerFileVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	os.WriteFile(path, []byte(`{"version": 99, "servers": {}}`), 0600)

	if _, err := NewFSCredentialStore(path, ""); err == nil {
		t.Error("expected error for a file from a newer client")
	}
}

func TestFSCredentialStore_SaveWithoutChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, _ := NewFSCredentialStore(path, "")
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Save without changes should not create the file")
	}
}
