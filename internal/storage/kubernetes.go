package storage

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"m365gate/pkg/logging"
)

const (
	labelManagedBy   = "app.kubernetes.io/managed-by"
	labelNamespace   = "m365gate.io/namespace"
	annotationOwner  = "m365gate.io/owner"
	managedByValue   = "m365gate"
	objectNamePrefix = "m365gate"
)

// KubernetesBackend keeps secure values in Secrets and settings in
// ConfigMaps, one object per owner.
type KubernetesBackend struct {
	client    client.Client
	namespace string
}

// NewKubernetesClient builds a controller-runtime client from a kubeconfig
// path, or from the in-cluster service account when kubeconfig is empty.
func NewKubernetesClient(kubeconfig string) (client.Client, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return c, nil
}

// NewKubernetesBackend stores objects in namespace using c.
func NewKubernetesBackend(c client.Client, namespace string) *KubernetesBackend {
	return &KubernetesBackend{client: c, namespace: namespace}
}

func (k *KubernetesBackend) objectName(ns Namespace, owner string) string {
	kind := "cfg"
	if ns == NamespaceSecure {
		kind = "sec"
	}
	return objectNamePrefix + "-" + kind + "-" + ownerHash(owner)
}

func (k *KubernetesBackend) objectMeta(ns Namespace, owner string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      k.objectName(ns, owner),
		Namespace: k.namespace,
		Labels: map[string]string{
			labelManagedBy: managedByValue,
			labelNamespace: string(ns),
		},
		Annotations: map[string]string{annotationOwner: owner},
	}
}

func (k *KubernetesBackend) key(ns Namespace, owner string) client.ObjectKey {
	return client.ObjectKey{Namespace: k.namespace, Name: k.objectName(ns, owner)}
}

func (k *KubernetesBackend) Get(ctx context.Context, ns Namespace, owner, name string) ([]byte, error) {
	data, err := k.load(ctx, ns, owner)
	if err != nil {
		return nil, err
	}
	v, ok := data[name]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (k *KubernetesBackend) load(ctx context.Context, ns Namespace, owner string) (map[string][]byte, error) {
	if ns == NamespaceSecure {
		secret := &corev1.Secret{}
		if err := k.client.Get(ctx, k.key(ns, owner), secret); err != nil {
			return nil, k.mapError(err)
		}
		return secret.Data, nil
	}
	cm := &corev1.ConfigMap{}
	if err := k.client.Get(ctx, k.key(ns, owner), cm); err != nil {
		return nil, k.mapError(err)
	}
	return cm.BinaryData, nil
}

func (k *KubernetesBackend) mapError(err error) error {
	if apierrors.IsNotFound(err) {
		return ErrNotFound
	}
	return fmt.Errorf("kubernetes storage: %w", err)
}

// Put merges values into the owner's object, creating it when missing.
// Update conflicts are retried with the latest resource version.
func (k *KubernetesBackend) Put(ctx context.Context, ns Namespace, owner string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		return k.mutate(ctx, ns, owner, func(data map[string][]byte) {
			for name, v := range values {
				data[name] = copyBytes(v)
			}
		})
	})
}

// Delete removes names from the owner's object and deletes the object once
// it is empty.
func (k *KubernetesBackend) Delete(ctx context.Context, ns Namespace, owner string, names ...string) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		err := k.mutate(ctx, ns, owner, func(data map[string][]byte) {
			for _, name := range names {
				delete(data, name)
			}
		})
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

func (k *KubernetesBackend) mutate(ctx context.Context, ns Namespace, owner string, fn func(map[string][]byte)) error {
	var obj client.Object
	var data map[string][]byte

	if ns == NamespaceSecure {
		secret := &corev1.Secret{}
		obj = secret
		err := k.client.Get(ctx, k.key(ns, owner), secret)
		switch {
		case apierrors.IsNotFound(err):
			secret.ObjectMeta = k.objectMeta(ns, owner)
			secret.Type = corev1.SecretTypeOpaque
			secret.ResourceVersion = ""
		case err != nil:
			return k.mapError(err)
		}
		if secret.Data == nil {
			secret.Data = map[string][]byte{}
		}
		data = secret.Data
	} else {
		cm := &corev1.ConfigMap{}
		obj = cm
		err := k.client.Get(ctx, k.key(ns, owner), cm)
		switch {
		case apierrors.IsNotFound(err):
			cm.ObjectMeta = k.objectMeta(ns, owner)
			cm.ResourceVersion = ""
		case err != nil:
			return k.mapError(err)
		}
		if cm.BinaryData == nil {
			cm.BinaryData = map[string][]byte{}
		}
		data = cm.BinaryData
	}

	exists := obj.GetResourceVersion() != ""
	fn(data)

	switch {
	case !exists && len(data) == 0:
		return ErrNotFound
	case !exists:
		logging.Debug("Storage", "Creating %s/%s", k.namespace, obj.GetName())
		return k.client.Create(ctx, obj)
	case len(data) == 0:
		logging.Debug("Storage", "Deleting empty %s/%s", k.namespace, obj.GetName())
		if err := k.client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
		return nil
	default:
		return k.client.Update(ctx, obj)
	}
}

func (k *KubernetesBackend) Close() error { return nil }
