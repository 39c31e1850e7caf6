// Package tlswarn emits a single process-wide notice when certificate
// verification has been switched off.
package tlswarn

import (
	"log"
	"sync"
)

var once sync.Once

// LogInsecure warns that LUMINA_TLS_INSECURE disabled certificate and
// hostname checks. Only the first call logs; both client transport paths
// call it and one notice per process is enough.
func LogInsecure() {
	once.Do(func() {
		log.Print("[Client] WARNING: LUMINA_TLS_INSECURE is set; certificate and hostname verification is disabled. Do not use outside local testing.")
	})
}
