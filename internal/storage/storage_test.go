package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

const testOwner = "ms365:ann@example.com"

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func newFakeKubeClient(t *testing.T) client.Client {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	return fake.NewClientBuilder().WithScheme(scheme).Build()
}

func newMiniredisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mini := miniredis.RunT(t)
	return NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}), "test")
}

// backends returns every backend implementation under test.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	fileBackend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return map[string]Backend{
		"memory":     NewMemoryBackend(),
		"file":       fileBackend,
		"redis":      newMiniredisBackend(t),
		"kubernetes": NewKubernetesBackend(newFakeKubeClient(t), "gateway"),
	}
}

func TestStore_Conformance(t *testing.T) {
	for name, backend := range backends(t) {
		for _, encrypted := range []bool{false, true} {
			backend := backend
			label := name
			if encrypted {
				label += "/encrypted"
			}
			t.Run(label, func(t *testing.T) {
				var s *Sealer
				if encrypted {
					var err error
					s, err = NewSealer(testKey(t))
					require.NoError(t, err)
				}
				store := NewStore(backend, s)
				defer store.Close()
				// each sub-test uses its own owner so the shared backend stays isolated
				owner := testOwner + "/" + label
				runConformance(t, store, owner)
			})
		}
	}
}

func runConformance(t *testing.T, store *Store, owner string) {
	ctx := context.Background()

	_, err := store.GetSecret(ctx, owner, "upstream_token")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetSecrets(ctx, owner, map[string][]byte{
		"upstream_token":        []byte("tok-1"),
		"upstream_token_mirror": []byte("tok-1"),
		"source":                []byte("external"),
	}))

	v, err := store.GetSecret(ctx, owner, "upstream_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", string(v))
	m, err := store.GetSecret(ctx, owner, "upstream_token_mirror")
	require.NoError(t, err)
	assert.Equal(t, string(v), string(m))

	// partial overwrite keeps other fields
	require.NoError(t, store.SetSecrets(ctx, owner, map[string][]byte{"source": []byte("exchange")}))
	src, err := store.GetSecret(ctx, owner, "source")
	require.NoError(t, err)
	assert.Equal(t, "exchange", string(src))
	v, err = store.GetSecret(ctx, owner, "upstream_token")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", string(v))

	// settings are separate from secrets
	_, err = store.GetSetting(ctx, owner, "upstream_token")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.SetSetting(ctx, owner, "ms-user-info", []byte(`{"name":"Ann"}`)))
	info, err := store.GetSetting(ctx, owner, "ms-user-info")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ann"}`, string(info))

	require.NoError(t, store.DeleteSecrets(ctx, owner, "upstream_token", "upstream_token_mirror", "source", "missing"))
	_, err = store.GetSecret(ctx, owner, "upstream_token")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetSecret(ctx, owner, "source")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteSettings(ctx, owner, "ms-user-info"))
	_, err = store.GetSetting(ctx, owner, "ms-user-info")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting from an unknown owner is not an error
	assert.NoError(t, store.DeleteSecrets(ctx, owner+"-unknown", "upstream_token"))
}

func TestStore_KeyValidation(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil)
	ctx := context.Background()

	assert.Error(t, store.SetSecrets(ctx, "", map[string][]byte{"a": nil}))
	assert.Error(t, store.SetSecrets(ctx, testOwner, map[string][]byte{"bad/name": nil}))
	_, err := store.GetSetting(ctx, testOwner, "has space")
	assert.Error(t, err)
	assert.Error(t, store.DeleteSecrets(ctx, "", "a"))
}

func TestSealer_EncryptsAtRest(t *testing.T) {
	backend := NewMemoryBackend()
	s, err := NewSealer(testKey(t))
	require.NoError(t, err)
	store := NewStore(backend, s)
	ctx := context.Background()

	require.NoError(t, store.SetSecrets(ctx, testOwner, map[string][]byte{"upstream_token": []byte("plain-secret")}))

	raw, err := backend.Get(ctx, NamespaceSecure, testOwner, "upstream_token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), sealedPrefix))
	assert.NotContains(t, string(raw), "plain-secret")
	assert.True(t, store.Encrypted())
}

func TestSealer_ReadsPlainValues(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, NamespaceSecure, testOwner, map[string][]byte{"upstream_token": []byte("legacy")}))

	s, err := NewSealer(testKey(t))
	require.NoError(t, err)
	v, err := NewStore(backend, s).GetSecret(ctx, testOwner, "upstream_token")
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(v))
}

func TestSealer_SealedValueWithoutKey(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	s, err := NewSealer(testKey(t))
	require.NoError(t, err)
	require.NoError(t, NewStore(backend, s).SetSecrets(ctx, testOwner, map[string][]byte{"upstream_token": []byte("x")}))

	_, err = NewStore(backend, nil).GetSecret(ctx, testOwner, "upstream_token")
	assert.ErrorIs(t, err, ErrSealed)
}

func TestNewSealer(t *testing.T) {
	s, err := NewSealer("")
	assert.NoError(t, err)
	assert.Nil(t, s)

	_, err = NewSealer("not base64!")
	assert.Error(t, err)

	_, err = NewSealer(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestFileBackend_Permissions(t *testing.T) {
	root := t.TempDir()
	backend, err := NewFileBackend(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, NamespaceSecure, testOwner, map[string][]byte{"upstream_token": []byte("t")}))

	info, err := os.Stat(filepath.Join(root, string(NamespaceSecure)))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	path := backend.path(NamespaceSecure, testOwner)
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.NotContains(t, path, "ann@example.com")

	// removing the last value removes the file
	require.NoError(t, backend.Delete(ctx, NamespaceSecure, testOwner, "upstream_token"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestKubernetesBackend_ObjectLayout(t *testing.T) {
	c := newFakeKubeClient(t)
	backend := NewKubernetesBackend(c, "gateway")
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, NamespaceSecure, testOwner, map[string][]byte{
		"upstream_token": []byte("t"),
		"source":         []byte("external"),
	}))
	require.NoError(t, backend.Put(ctx, NamespaceSettings, testOwner, map[string][]byte{"ms-user-info": []byte("{}")}))

	secret := &corev1.Secret{}
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "gateway", Name: backend.objectName(NamespaceSecure, testOwner)}, secret))
	assert.Equal(t, "t", string(secret.Data["upstream_token"]))
	assert.Equal(t, testOwner, secret.Annotations[annotationOwner])
	assert.Equal(t, managedByValue, secret.Labels[labelManagedBy])

	cm := &corev1.ConfigMap{}
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "gateway", Name: backend.objectName(NamespaceSettings, testOwner)}, cm))
	assert.Equal(t, "{}", string(cm.BinaryData["ms-user-info"]))

	// deleting every key removes the Secret
	require.NoError(t, backend.Delete(ctx, NamespaceSecure, testOwner, "upstream_token", "source"))
	err := c.Get(ctx, client.ObjectKey{Namespace: "gateway", Name: backend.objectName(NamespaceSecure, testOwner)}, &corev1.Secret{})
	assert.Error(t, err)
}

func TestMemoryBackend_DeleteRemovesEmptyOwner(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, NamespaceSecure, testOwner, map[string][]byte{"a": []byte("1")}))
	assert.Equal(t, 1, m.owners(NamespaceSecure))
	require.NoError(t, m.Delete(ctx, NamespaceSecure, testOwner, "a"))
	assert.Equal(t, 0, m.owners(NamespaceSecure))
}

func TestRedisBackend_HashLayout(t *testing.T) {
	mini := miniredis.RunT(t)
	backend := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}), "gw")
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, NamespaceSecure, testOwner, map[string][]byte{"upstream_token": []byte("t")}))
	assert.Equal(t, "t", mini.HGet("gw:secure:"+testOwner, "upstream_token"))
	assert.NoError(t, backend.Health(ctx))
}
