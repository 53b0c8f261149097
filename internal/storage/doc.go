// Package storage implements the gateway's secret-aware key/value store.
//
// Values live in one of two namespaces. The settings namespace holds
// non-secret records (user profile info, device registrations). The secure
// namespace holds upstream tokens and related metadata; when an encryption
// key is configured its values are sealed with AES-256-GCM before they reach
// the backend.
//
// Every value is addressed by an owner (usually a canonical user id such as
// "ms365:ann@example.com") and a short name ("upstream_token"). All names
// written for one owner in a single Put land in one backend object, so a
// multi-field write is all-or-nothing on every backend:
//
//   - memory: nested maps under a RWMutex
//   - file: one JSON file per owner and namespace (0600, directory 0700)
//   - redis: one hash per owner and namespace, written with HSET
//   - kubernetes: one Secret (secure) or ConfigMap (settings) per owner
package storage
