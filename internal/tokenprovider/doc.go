// Package tokenprovider returns a live upstream bearer for a canonical user
// id and owns every write to the stored TokenRecord.
//
// Lookup order is: in-process cache, then the stored record (primary key,
// then mirror key), then a silent refresh when a refresh token is stored.
// Concurrent refreshes for one user are coalesced with singleflight and all
// writes for one user run under a per-user mutex, so the primary token, its
// mirror, the metadata and the source always describe the same credential.
package tokenprovider
