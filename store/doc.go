// Package store defines the persistence collaborator contract the runtime
// consumes, plus two reference implementations: an ephemeral in-memory store
// and a networked socket.io-backed store that receives asynchronous change
// notifications.
//
// The runtime itself makes no persistence guarantees; the store descriptor
// tags (store/get/set/del) dispatch here and whatever durability the backing
// provides is what the caller gets.
package store
