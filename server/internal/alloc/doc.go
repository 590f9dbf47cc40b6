// Package alloc generates slot ids and runs the claim protocol: a random
// candidate is probed for liveness and then reserved in the store, retrying
// on collision until an unused slot is found or attempts run out.
package alloc
